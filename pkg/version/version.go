// Package version carries build metadata for startup logs and the
// health endpoint. Container builds inject the commit with
// -ldflags "-X github.com/caseops/casepilot/pkg/version.commit=<sha>";
// source builds fall back to the VCS stamp Go embeds, then to "dev".
package version

import "runtime/debug"

// commit is injected at build time. It wins over the VCS stamp so
// image builds without a .git directory still identify themselves.
var commit string

const shortLen = 8

// GitCommit is the short commit hash identifying this build, or "dev"
// when no build metadata is available (go test, non-git checkouts).
var GitCommit = resolve()

func resolve() string {
	if commit != "" {
		return short(commit)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > shortLen {
		return rev[:shortLen]
	}
	return rev
}

// String renders "casepilot/<commit>" for logs and user-agent strings.
func String() string {
	return "casepilot/" + GitCommit
}
