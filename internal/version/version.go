// Package version holds build-time version information, set via -ldflags.
package version

var (
	// Version is the semantic version of the build.
	Version = "dev"

	// Commit is the git commit SHA the binary was built from.
	Commit = "unknown"
)
