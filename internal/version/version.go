package version

import "fmt"

// Version and Commit are set at build time via:
//
//	go build -ldflags "-X ...version.Version=1.2.0 -X ...version.Commit=abc123"
var (
	Version = "dev"
	Commit  = "dev"
)

// String formats the version line printed by --version.
func String(applet string) string {
	return fmt.Sprintf("%s %s (%s)", applet, Version, Commit)
}
