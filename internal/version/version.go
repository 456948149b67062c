// Package version carries build metadata set with -ldflags "-X".
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build line printed by the version command.
func String() string {
	return fmt.Sprintf("impactcurator %s (commit %s, built %s, %s)", Version, Commit, BuildDate, runtime.Version())
}
