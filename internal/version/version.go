// Package version holds build metadata injected via ldflags.
package version

import "fmt"

// Service is the name reported in logs and the health endpoint.
const Service = "docextract"

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String renders the build metadata for startup logs.
func String() string {
	return fmt.Sprintf("%s %s (%s, %s)", Service, Version, Commit, Date)
}
