//go:build linux
// +build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific debug probes.

package control

import (
	"os"
	"runtime"
)

// RegisterPlatformProbes sets Linux-specific debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.sctp", func() any {
		// present once the sctp module is loaded
		_, err := os.Stat("/proc/net/sctp")
		return err == nil
	})
}
