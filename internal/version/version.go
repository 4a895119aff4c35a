// Package version provides build-time version information for distconv.
//
// Build-time variables are injected via ldflags:
//
//	go build -ldflags "
//	  -X github.com/distconv/distconv/internal/version.Version=x.y.z
//	  -X github.com/distconv/distconv/internal/version.Commit=$(git rev-parse HEAD)
//	  -X github.com/distconv/distconv/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)
//	"
package version

import "fmt"

// Build-time variables injected via ldflags.
var (
	// Version is the semantic version.
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"

	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"
)

// Short returns the bare version string.
func Short() string {
	return Version
}

// Full returns the version with build metadata.
func Full() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}
