// Package version carries build metadata injected through -ldflags, e.g.
// -X price-tracker/internal/version.Version=v1.2.0.
package version

import "fmt"

// Name is the binary name reported by the version command.
const Name = "pricetracker"

var (
	// Version is the release tag. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// String renders a one-line build summary.
func String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", Name, Version, Commit, BuildDate)
}
