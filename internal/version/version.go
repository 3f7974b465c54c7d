// Package version holds build information, set at link time:
//
//	go build -ldflags "-X sfu-gateway/internal/version.Version=1.4.0 \
//	                   -X sfu-gateway/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

import "log/slog"

var (
	Version = "dev"
	Commit  = "unknown"
)

// String returns "version (commit)".
func String() string {
	return Version + " (" + Commit + ")"
}

// Attr groups the build information for a startup log line.
func Attr() slog.Attr {
	return slog.Group("build", slog.String("version", Version), slog.String("commit", Commit))
}
