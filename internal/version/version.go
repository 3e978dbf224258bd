package version

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// Build information for the iselfuzz CLI. Override at build time with
// -ldflags "-X iselfuzz/internal/version.Version=...".
var (
	// Version is the semantic version of the CLI.
	Version = "0.1.0-dev"

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""
)

var (
	nameColor    = color.New(color.FgCyan, color.Bold)
	versionColor = color.New(color.FgGreen, color.Bold)
	detailColor  = color.New(color.Faint)
)

// String returns the version with the optional build details.
func String() string {
	var parts []string
	if GitCommit != "" {
		commit := GitCommit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		parts = append(parts, "commit "+commit)
	}
	if BuildDate != "" {
		parts = append(parts, "built "+BuildDate)
	}
	if len(parts) == 0 {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, strings.Join(parts, ", "))
}

// Banner returns the colored one-line banner printed by "iselfuzz version".
func Banner() string {
	s := nameColor.Sprint("iselfuzz") + " " + versionColor.Sprint(Version)
	if rest := strings.TrimPrefix(String(), Version); rest != "" {
		s += detailColor.Sprint(rest)
	}
	return s
}
