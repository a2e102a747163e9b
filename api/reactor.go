// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the contracts between the receive reactor and the protocol
// components that attach sockets to it.

package api

// ReceiveTask is invoked on the reactor goroutine whenever its descriptor
// becomes readable. Returning false reports that the peer closed the
// connection; the reactor then drops the registration but leaves the
// descriptor open, since it never owned it.
type ReceiveTask interface {
	Invoke(fd int) (stillValid bool)
}

// TaskFunc adapts an ordinary function to ReceiveTask.
type TaskFunc func(fd int) bool

// Invoke calls f(fd).
func (f TaskFunc) Invoke(fd int) bool { return f(fd) }

// Registrar is the only way upper layers attach and detach live sockets.
type Registrar interface {
	// Register attaches an open descriptor together with its decode task.
	Register(fd int, task ReceiveTask) error

	// Unregister detaches fd. The descriptor is dropped from the readiness
	// set asynchronously on the reactor goroutine.
	Unregister(fd int) error
}
