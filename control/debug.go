// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Named state probes dumped periodically by the daemon.

package control

import "github.com/puzpuzpuz/xsync/v3"

// DebugProbes holds registered probe functions.
type DebugProbes struct {
	probes *xsync.MapOf[string, func() any]
}

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{
		probes: xsync.NewMapOf[string, func() any](),
	}
}

// RegisterProbe inserts a named debug hook, replacing any previous one.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.probes.Store(name, fn)
}

// RemoveProbe drops the named hook.
func (dp *DebugProbes) RemoveProbe(name string) {
	dp.probes.Delete(name)
}

// DumpState returns output of all probes.
func (dp *DebugProbes) DumpState() map[string]any {
	out := make(map[string]any, dp.probes.Size())
	dp.probes.Range(func(k string, fn func() any) bool {
		out[k] = fn()
		return true
	})
	return out
}
