//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll readiness set.

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const maxEvents = 128

// epollSet is the readiness universe of a handler: every active descriptor
// plus the control pipe, watched level-triggered for input.
type epollSet struct {
	epfd   int
	events []unix.EpollEvent
}

func newEpollSet() (*epollSet, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &epollSet{
		epfd:   epfd,
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

// add starts watching fd. Adding a watched descriptor is not an error.
func (e *epollSet) add(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	if err == unix.EEXIST {
		return nil
	}
	return err
}

// del stops watching fd. The kernel already forgot descriptors that were
// closed, so ENOENT and EBADF are not errors.
func (e *epollSet) del(fd int) error {
	err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

// wait blocks without timeout until at least one descriptor is readable and
// returns the ready descriptors. EINTR is retried.
func (e *epollSet) wait() ([]unix.EpollEvent, error) {
	for {
		n, err := unix.EpollWait(e.epfd, e.events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("epoll wait: %w", err)
		}
		return e.events[:n], nil
	}
}

func (e *epollSet) close() error {
	return unix.Close(e.epfd)
}
