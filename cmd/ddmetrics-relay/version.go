package main

import "runtime/debug"

var (
	Version   string
	BuildDate string
	GitCommit string
)

// getVersion returns Version, falling back to the module version recorded in
// the binary.
func getVersion() string {
	if Version != "" {
		return Version
	}
	if build, ok := debug.ReadBuildInfo(); ok {
		return build.Main.Version
	}
	return "unknown"
}
