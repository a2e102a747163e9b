// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for pinning and prioritising the calling OS thread.
// Platform-specific implementations live in affinity_linux.go and
// affinity_stub.go, guarded by build tags.
//
// Both calls act on the current OS thread only, so callers must hold
// runtime.LockOSThread for the effect to stick to their goroutine.

package affinity

// NoPriority leaves the thread on the default time-sharing scheduler.
const NoPriority = -1

// SetAffinity pins the current OS thread to the given logical CPU.
// On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	if cpuID < 0 {
		return errInvalidCPU(cpuID)
	}
	return setAffinityPlatform(cpuID)
}

// SetPriority moves the current OS thread to the real-time FIFO scheduler.
// prio is an offset below the highest real-time priority: 0 is the most
// urgent. NoPriority (or any negative value) is a no-op.
func SetPriority(prio int) error {
	if prio < 0 {
		return nil
	}
	return setPriorityPlatform(prio)
}
