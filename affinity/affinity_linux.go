//go:build linux
// +build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux implementation on top of sched_setaffinity(2) and
// sched_setscheduler(2). pid 0 addresses the calling thread.

package affinity

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const maxFIFOPriority = 99

func errInvalidCPU(cpuID int) error {
	return fmt.Errorf("affinity: invalid cpu %d", cpuID)
}

// setAffinityPlatform sets thread affinity to a given CPU for Linux.
func setAffinityPlatform(cpuID int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: sched_setaffinity cpu %d: %w", cpuID, err)
	}
	return nil
}

type schedParam struct {
	priority int32
}

func setPriorityPlatform(prio int) error {
	p := maxFIFOPriority - prio
	if p < 1 {
		p = 1
	}
	param := schedParam{priority: int32(p)}
	_, _, e := unix.RawSyscall(unix.SYS_SCHED_SETSCHEDULER, 0, uintptr(unix.SCHED_FIFO), uintptr(unsafe.Pointer(&param)))
	if e != 0 {
		return fmt.Errorf("affinity: sched_setscheduler fifo %d: %w", p, e)
	}
	return nil
}
