// Package version provides the keva version string.
// The version is set at build time via -ldflags.
package version

// Version is the current keva version.
// Override at build time: go build -ldflags "-X github.com/oxfell/keva/internal/version.Version=0.2.0"
var Version = "0.1.0"

// BuildTime is the build timestamp.
// Override at build time: go build -ldflags "-X github.com/oxfell/keva/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var BuildTime = "unknown"
