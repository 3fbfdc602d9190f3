// Package version holds build information set via -ldflags.
package version

// Version is the release version, e.g. "1.2.0".
var Version = "dev"

// GitCommit is the commit the binary was built from.
var GitCommit = "unknown"
