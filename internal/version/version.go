package version

import (
	"fmt"
	"runtime"
)

// Build metadata, overridden at build time via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// UserAgent identifies this build in outbound HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("imbalancewatch/%s", Version)
}

// Info renders the build metadata printed by the version command.
func Info() string {
	return fmt.Sprintf("imbalancewatch %s\ncommit: %s\nbuilt: %s\ngo: %s %s/%s\n",
		Version, Commit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
