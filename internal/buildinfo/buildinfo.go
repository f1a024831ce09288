// Package buildinfo contains build-time metadata, injected with -ldflags:
//
//	go build -ldflags "-X github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/buildinfo.Version=v1.2.0"
package buildinfo

import "runtime/debug"

// Set at link time
var (
	Version   = ""
	BuildDate = ""
)

// Info is the build metadata of the running binary
type Info struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Get returns the build metadata. Without link-time values the module
// version recorded by the toolchain is used.
func Get() Info {
	info := Info{Version: Version, BuildDate: BuildDate}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.BuildDate == "" {
		info.BuildDate = "unknown"
	}
	return info
}

// Release is the release identifier used in error reports
func Release() string {
	return "aimusicverse-audiocore@" + Get().Version
}
