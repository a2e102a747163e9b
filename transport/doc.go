// Package transport
// Author: momentics <momentics@gmail.com>
//
// Address conversion, socket creation and configuration for the receive
// path: UDP, TCP and SCTP sockets opened as raw descriptors so they can be
// attached to the receive reactor.
//
// SCTP sockets are tuned on creation for quick failure detection on
// signalling links:
//   - subscription to data i/o, shutdown and peer address change events;
//   - maximum retransmission timeout lowered to DefaultRTOMax;
//   - INIT retransmissions bounded by DefaultInitMaxAttempts and
//     DefaultInitMaxTimeout so connect does not block for minutes.
//
// See SCTPTuningPolicy for which of these steps may fail without failing
// socket creation.
//
// Socket owns exactly one descriptor and closes it exactly once.
package transport
