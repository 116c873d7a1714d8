// Package version reports build information. Release builds set the
// variables below through -ldflags; other builds fall back to the module
// and VCS data embedded by the Go toolchain.
package version

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/carlmjohnson/versioninfo"
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
	Dirty     bool      `json:"dirty"`
}

// These variables are set at build time using -ldflags
var (
	// Version is the semantic version of the application
	Version = "dev"

	// GitCommit is the git commit hash when the binary was built
	GitCommit = "unknown"

	// BuildTime is the time when the binary was built (RFC3339 format)
	BuildTime = "unknown"
)

// GetBuildInfo returns comprehensive build information
func GetBuildInfo() *BuildInfo {
	return &BuildInfo{
		Version:   GetVersion(),
		GitCommit: GetGitCommit(),
		BuildTime: GetBuildTime(),
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		Dirty:     IsDirty(),
	}
}

// GetVersion returns the application version
func GetVersion() string {
	if Version != "" && Version != "dev" {
		return Version
	}

	v := versioninfo.Version
	if v != "" && v != "unknown" && v != "(devel)" {
		return v
	}
	if rev := versioninfo.Revision; len(rev) >= 7 && rev != "unknown" {
		return "dev-" + rev[:7]
	}

	return "dev"
}

// GetGitCommit returns the git commit hash
func GetGitCommit() string {
	if GitCommit != "" && GitCommit != "unknown" {
		return GitCommit
	}
	if versioninfo.Revision != "" {
		return versioninfo.Revision
	}
	return "unknown"
}

// GetBuildTime returns the build time, or the last commit time when the
// binary was not stamped.
func GetBuildTime() time.Time {
	if t := parseISOTime(BuildTime); !t.IsZero() {
		return t
	}
	return versioninfo.LastCommit
}

// GetShortVersion returns a short version string suitable for display
func GetShortVersion() string {
	if Version != "" && Version != "dev" {
		commit := GetGitCommit()
		if commit != "unknown" && len(commit) >= 7 {
			return fmt.Sprintf("%s (%s)", Version, commit[:7])
		}
		return Version
	}
	return versioninfo.Short()
}

// GetDetailedVersion returns a detailed version string with all build info
func GetDetailedVersion() string {
	info := GetBuildInfo()

	var parts []string
	parts = append(parts, fmt.Sprintf("Version: %s", info.Version))

	if info.GitCommit != "unknown" {
		commit := info.GitCommit
		if info.Dirty {
			commit += " (dirty)"
		}
		parts = append(parts, fmt.Sprintf("Commit: %s", commit))
	}

	if !info.BuildTime.IsZero() {
		parts = append(parts, fmt.Sprintf("Built: %s", info.BuildTime.Format(time.RFC3339)))
	}

	parts = append(parts, fmt.Sprintf("Go: %s", info.GoVersion))
	parts = append(parts, fmt.Sprintf("Platform: %s", info.Platform))

	return strings.Join(parts, "\n")
}

// IsRelease returns true if this is a release build (not dev)
func IsRelease() bool {
	version := GetVersion()
	return version != "dev" && !strings.HasPrefix(version, "dev-")
}

// IsDirty returns true if the working directory was dirty when built.
// Stamped release builds are never dirty.
func IsDirty() bool {
	if GitCommit != "" && GitCommit != "unknown" {
		return false
	}
	return versioninfo.Revision != "unknown" && versioninfo.DirtyBuild
}

func parseISOTime(s string) time.Time {
	if s == "" || s == "unknown" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
