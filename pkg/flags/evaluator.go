// Package flags decides per-caller routing between the legacy ServiceNow
// path and the repository layer. Decisions are deterministic: same flag
// snapshot and caller id yield the same answer in every process.
package flags

import (
	"hash/fnv"
	"slices"

	"github.com/caseops/casepilot/pkg/config"
)

// Evaluator resolves the repository rollout decision from the current
// flag snapshot. The snapshot provider is typically config.Flags, so
// refreshes take effect without restarting.
type Evaluator struct {
	flags func() *config.FeatureFlags
}

// NewEvaluator wires the evaluator to a snapshot provider.
func NewEvaluator(flags func() *config.FeatureFlags) *Evaluator {
	return &Evaluator{flags: flags}
}

// Decide reports whether the NEW repository path serves this caller.
// Precedence: force-disable, force-enable, user allowlist, channel
// allowlist, then percentage rollout hashed on the caller id (user id
// when present, else channel id).
func (e *Evaluator) Decide(userID, channelID string) bool {
	if e == nil || e.flags == nil {
		return false
	}
	f := e.flags()
	if f == nil {
		return false
	}

	if f.ForceDisable {
		return false
	}
	if f.ForceEnable {
		return true
	}
	if userID != "" && slices.Contains(f.Users, userID) {
		return true
	}
	if channelID != "" && slices.Contains(f.Channels, channelID) {
		return true
	}

	caller := userID
	if caller == "" {
		caller = channelID
	}
	if caller == "" {
		return false
	}
	return Bucket(caller) < f.RolloutPct
}

// Bucket maps a caller id onto [0,100) with FNV-1a 32-bit. Exported so
// operators can check which side of a rollout a caller lands on.
func Bucket(callerID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(callerID))
	return int(h.Sum32() % 100)
}
