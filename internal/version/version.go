package version

import (
	"fmt"
	"runtime/debug"
)

var (
	// Version is the application version (set at build time)
	Version = "dev"

	// Commit is the git commit hash (set at build time)
	Commit = "unknown"

	// BuildTime is the build timestamp (set at build time)
	BuildTime = "unknown"
)

// String returns a formatted version string. Values not injected with
// -ldflags fall back to the VCS stamp embedded by the go tool.
func String() string {
	commit, built := Commit, BuildTime
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch {
			case setting.Key == "vcs.revision" && commit == "unknown":
				commit = shorten(setting.Value)
			case setting.Key == "vcs.time" && built == "unknown":
				built = setting.Value
			}
		}
	}
	return fmt.Sprintf("v%s (commit: %s, built: %s)", Version, commit, built)
}

func shorten(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
