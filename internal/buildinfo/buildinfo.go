// Package buildinfo holds version information stamped at link time:
//
//	go build -ldflags "-X github.com/didi/halttrace/internal/buildinfo.Version=v0.3.0 \
//	  -X github.com/didi/halttrace/internal/buildinfo.CommitID=$(git rev-parse --short HEAD) \
//	  -X github.com/didi/halttrace/internal/buildinfo.BuildTime=$(date -u +%FT%TZ)"
package buildinfo

var (
	// Version release version
	Version = "dev"
	// CommitID git commit
	CommitID = "unknown"
	// BuildTime build time, UTC
	BuildTime = "unknown"
)
