// Package version carries build identification, overridden at link time:
//
//	go build -ldflags "-X .../internal/version.Version=v1.2.0 -X .../internal/version.GitSHA=$(git rev-parse --short HEAD)"
package version

import "fmt"

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
)

// String formats the build identity for logs and -version flags.
func String() string {
	return fmt.Sprintf("%s (%s)", Version, GitSHA)
}
