// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor multiplexes receive sockets onto one background OS thread.
//
// A Handler owns an epoll instance and a self-pipe control channel. Producer
// goroutines attach descriptors with Register and detach them with
// Unregister; the Handler's thread waits on every registered descriptor
// plus the control pipe and runs the matching ReceiveTask whenever a socket
// becomes readable. Tasks for UDP datagrams, SCTP messages and TCP streams
// are provided.
package reactor
