// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for the rxmux library.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library. Every failure returned by the
// transport and reactor packages wraps exactly one of these.
var (
	ErrInvalidAddress  = errors.New("invalid address")
	ErrOpenFailed      = errors.New("socket open failed")
	ErrBindFailed      = errors.New("bind failed")
	ErrConnectFailed   = errors.New("connect failed")
	ErrListenFailed    = errors.New("listen failed")
	ErrAcceptFailed    = errors.New("accept failed")
	ErrAlreadyOpen     = errors.New("socket already open")
	ErrDuplicateFD     = errors.New("descriptor already registered")
	ErrInvalidFD       = errors.New("invalid descriptor")
	ErrNotFound        = errors.New("descriptor not registered")
	ErrControlChannel  = errors.New("control channel i/o error")
	ErrBufferExhausted = errors.New("buffer pool exhausted")
	ErrPeerClosed      = errors.New("peer closed connection")
	ErrClosed          = errors.New("handler is closed")
	ErrNotSupported    = errors.New("operation not supported")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeAddressParse
	ErrCodeOpenFailed
	ErrCodeBindFailed
	ErrCodeConnectFailed
	ErrCodeListenFailed
	ErrCodeAcceptFailed
	ErrCodeAlreadyOpen
	ErrCodeDuplicateFD
	ErrCodeInvalidFD
	ErrCodeNotFound
	ErrCodeControlChannel
	ErrCodeBufferExhausted
	ErrCodePeerClosed
	ErrCodeClosed
	ErrCodeNotSupported
)

var codeSentinels = map[ErrorCode]error{
	ErrCodeAddressParse:    ErrInvalidAddress,
	ErrCodeOpenFailed:      ErrOpenFailed,
	ErrCodeBindFailed:      ErrBindFailed,
	ErrCodeConnectFailed:   ErrConnectFailed,
	ErrCodeListenFailed:    ErrListenFailed,
	ErrCodeAcceptFailed:    ErrAcceptFailed,
	ErrCodeAlreadyOpen:     ErrAlreadyOpen,
	ErrCodeDuplicateFD:     ErrDuplicateFD,
	ErrCodeInvalidFD:       ErrInvalidFD,
	ErrCodeNotFound:        ErrNotFound,
	ErrCodeControlChannel:  ErrControlChannel,
	ErrCodeBufferExhausted: ErrBufferExhausted,
	ErrCodePeerClosed:      ErrPeerClosed,
	ErrCodeClosed:          ErrClosed,
	ErrCodeNotSupported:    ErrNotSupported,
}

// Error represents a structured error with code and context.
// errors.Is matches the sentinel for Code; errors.As reaches the cause
// (usually a unix.Errno).
type Error struct {
	Code    ErrorCode
	Op      string
	Err     error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Op
	if s, ok := codeSentinels[e.Code]; ok {
		if msg != "" {
			msg += ": "
		}
		msg += s.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s, ok := codeSentinels[e.Code]; ok {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewError creates a new structured error.
func NewError(code ErrorCode, op string, cause error) *Error {
	return &Error{
		Code: code,
		Op:   op,
		Err:  cause,
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf returns the ErrorCode carried by err, or ErrCodeOK when err is nil
// and ErrCodeNotSupported when err carries no known code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	for code, s := range codeSentinels {
		if errors.Is(err, s) {
			return code
		}
	}
	return ErrCodeNotSupported
}
