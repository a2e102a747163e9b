//go:build !linux
// +build !linux

// File: reactor/handler_other.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"github.com/momentics/rxmux/api"
	"github.com/momentics/rxmux/pool"
)

// Handler is unavailable on this platform.
type Handler struct {
	name string
}

func unsupported(op string) error {
	return api.NewError(api.ErrCodeNotSupported, op, nil)
}

// New returns an error for unsupported platforms.
func New(name string, opts ...Option) (*Handler, error) {
	return nil, unsupported("reactor")
}

func (h *Handler) Name() string                                { return h.name }
func (h *Handler) State() State                                { return StateStopped }
func (h *Handler) Pool() *pool.BufferPool                      { return nil }
func (h *Handler) Len() int                                    { return 0 }
func (h *Handler) Has(fd int) bool                             { return false }
func (h *Handler) Register(fd int, task api.ReceiveTask) error { return unsupported("register") }
func (h *Handler) Unregister(fd int) error                     { return unsupported("unregister") }
func (h *Handler) RegisterDatagram(fd int, fn DatagramHandler) error {
	return unsupported("register")
}
func (h *Handler) RegisterSCTP(fd int, fn SCTPHandler) error     { return unsupported("register") }
func (h *Handler) RegisterStream(fd int, fn StreamHandler) error { return unsupported("register") }
func (h *Handler) Close() error                                  { return nil }
