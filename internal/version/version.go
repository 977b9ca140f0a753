package version

import (
	"runtime/debug"
)

// version is set by ldflags when built from a release
var version = ""

// Version returns the version number supplied during build.  Without one, the module version recorded
// by the Go toolchain is used, and "dev" if that is not available either.
func Version() string {
	if version != "" {
		return version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return "dev"
}
