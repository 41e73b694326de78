// Package version provides build-time version information
// injected via ldflags during compilation, e.g.
//
//	go build -ldflags "-X github.com/rkdial/bridgectl/internal/version.Version=1.2.0"
package version

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)
