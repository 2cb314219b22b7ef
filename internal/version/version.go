// Package version reports build metadata injected with -ldflags.
package version

import "fmt"

// Set at build time, e.g.
// -ldflags "-X github.com/nantokaworks/triad-arena/internal/version.Version=1.2.0"
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the JSON form served on /status.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
}

func String() string {
	return fmt.Sprintf("triad-arena %s (commit %s, built %s)", Version, Commit, BuildTime)
}
