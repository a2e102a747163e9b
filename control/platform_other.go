//go:build !linux
// +build !linux

// control/platform_other.go
// Author: momentics <momentics@gmail.com>

package control

import (
	"runtime"
)

// RegisterPlatformProbes sets the probes available everywhere.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.sctp", func() any { return false })
}
