package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FeatureFlags is one immutable snapshot of the repository-rollout
// flags. Snapshots are swapped atomically on refresh; readers never see
// a half-updated set.
type FeatureFlags struct {
	// RolloutPct selects the NEW repository path for callers whose
	// id hash modulo 100 falls below it. 0 disables, 100 enables all.
	RolloutPct int

	// Users and Channels are allowlists that win over the percentage.
	Users    []string
	Channels []string

	// ForceEnable turns the NEW path on for everyone. ForceDisable wins
	// over everything, including ForceEnable.
	ForceEnable  bool
	ForceDisable bool
}

// LoadFlags reads the FEATURE_SERVICENOW_REPOSITORIES_* environment
// variables into a snapshot.
func LoadFlags() (*FeatureFlags, error) {
	flags := &FeatureFlags{}

	if raw := os.Getenv("FEATURE_SERVICENOW_REPOSITORIES_PCT"); raw != "" {
		pct, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: FEATURE_SERVICENOW_REPOSITORIES_PCT %q", ErrInvalidValue, raw)
		}
		if pct < 0 || pct > 100 {
			return nil, fmt.Errorf("%w: FEATURE_SERVICENOW_REPOSITORIES_PCT must be 0-100, got %d", ErrInvalidValue, pct)
		}
		flags.RolloutPct = pct
	}

	flags.Users = splitList(os.Getenv("FEATURE_SERVICENOW_REPOSITORIES_USERS"))
	flags.Channels = splitList(os.Getenv("FEATURE_SERVICENOW_REPOSITORIES_CHANNELS"))
	flags.ForceEnable = parseBool(os.Getenv("FEATURE_SERVICENOW_REPOSITORIES_FORCE_ENABLE"))
	flags.ForceDisable = parseBool(os.Getenv("FEATURE_SERVICENOW_REPOSITORIES_FORCE_DISABLE"))

	return flags, nil
}

// UserAllowed reports whether the user id is on the allowlist.
func (f *FeatureFlags) UserAllowed(userID string) bool {
	return contains(f.Users, userID)
}

// ChannelAllowed reports whether the channel id is on the allowlist.
func (f *FeatureFlags) ChannelAllowed(channelID string) bool {
	return contains(f.Channels, channelID)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseBool(raw string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && b
}
