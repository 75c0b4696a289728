// Package version exposes build metadata for reelcast.
//
// Values are injected at build time:
//
//	go build -ldflags "-X github.com/jmylchreest/reelcast/internal/version.Version=1.4.0 \
//	                   -X github.com/jmylchreest/reelcast/internal/version.Commit=$(git rev-parse HEAD)"
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "reelcast"

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info is the structured form reported by `reelcast version` and /health.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	Date      string `json:"date" yaml:"date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// GetInfo returns the current build metadata.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// ShortCommit returns the first eight characters of the commit, or "" when
// the commit was not injected.
func ShortCommit() string {
	if Commit == "unknown" || len(Commit) < 8 {
		return ""
	}
	return Commit[:8]
}

// String returns a human-readable version line.
func String() string {
	info := GetInfo()
	if sc := ShortCommit(); sc != "" {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			ApplicationName, info.Version, sc, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, info.Platform)
}

// UserAgent returns the User-Agent sent to the credit ledger.
func UserAgent() string {
	return ApplicationName + "/" + Version
}

// IsRelease reports whether this is a tagged, non-snapshot build.
func IsRelease() bool {
	return Version != "dev" && !strings.Contains(Version, "-SNAPSHOT")
}
