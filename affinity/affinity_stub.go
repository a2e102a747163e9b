//go:build !linux
// +build !linux

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.
// Returns error to indicate unavailability.

package affinity

import (
	"errors"
	"fmt"
)

var errUnsupported = errors.New("affinity: not supported on this platform")

func errInvalidCPU(cpuID int) error {
	return fmt.Errorf("affinity: invalid cpu %d", cpuID)
}

func setAffinityPlatform(cpuID int) error {
	return errUnsupported
}

func setPriorityPlatform(prio int) error {
	return errUnsupported
}
