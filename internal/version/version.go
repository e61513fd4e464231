// Package version exposes build metadata injected at link time.
package version

// Set via -ldflags "-X github.com/mcpdex-dev/mcpdex/internal/version.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)
