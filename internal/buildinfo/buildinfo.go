// Package buildinfo carries build-time metadata injected through ldflags,
// kept apart from user configuration.
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/tphakala/biosig-go/internal/buildinfo.version=..."
var (
	version   = ""
	buildDate = ""
)

const unknown = "unknown"

// Info is the build metadata of the running binary
type Info struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Get returns the build metadata. Without ldflags the module version
// recorded by the Go toolchain is used.
func Get() Info {
	info := Info{Version: version, BuildDate: buildDate, GoVersion: unknown}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
	}
	if info.Version == "" {
		info.Version = unknown
	}
	if info.BuildDate == "" {
		info.BuildDate = unknown
	}
	return info
}

// Release returns the Sentry release name
func (i Info) Release() string {
	return "biosig@" + i.Version
}

func (i Info) String() string {
	return fmt.Sprintf("biosig %s (built %s, %s)", i.Version, i.BuildDate, i.GoVersion)
}
