// Copyright (c) 2025 The seqpacket Authors
// Use of this source code is governed by a MIT
// license that can be found in the LICENSE file.

// Package sctp provides access to the kernel SCTP stack with an API
// shaped after the standard net package.
//
// Both SCTP association styles are supported:
//
//   - one-to-one: [SCTPListener] accepts connections, each represented
//     by an [SCTPStream] owning its own socket, like a TCP connection.
//     [Dial] creates an outbound stream.
//   - one-to-many: a single [SCTPEndpoint] socket multiplexes many
//     associations, each addressed by an [AssocID].
//
// Multi-homing is expressed by [SCTPAddr], which holds one or more IP
// addresses under a single port. Address strings list the addresses
// separated by '/', as in "127.0.0.1/127.0.0.2:9000".
//
// All blocking operations run through the Go runtime network poller,
// so goroutines, deadlines and Close-from-another-goroutine behave as
// they do for net package sockets.
package sctp

import (
	"github.com/pion/logging"
)

// AssocID identifies one association within a one-to-many endpoint's
// socket. It is only meaningful for the endpoint that produced it and
// becomes invalid once that association terminates or the endpoint
// closes.
type AssocID int32

// SoDirection selects the send half, the receive half, or both halves
// of a socket. It parameterizes [SCTPStream.Shutdown] and the
// per-direction buffer size accessors.
type SoDirection int

const (
	// SoReceive selects the receive direction (SHUT_RD, SO_RCVBUF).
	SoReceive SoDirection = iota

	// SoSend selects the send direction (SHUT_WR, SO_SNDBUF).
	SoSend

	// SoBoth selects both directions (SHUT_RDWR).
	SoBoth
)

func (d SoDirection) String() string {
	switch d {
	case SoReceive:
		return "receive"
	case SoSend:
		return "send"
	case SoBoth:
		return "both"
	}
	return "unknown"
}

// defaultLoggerFactory backs handles created without an explicit
// LoggerFactory in their config.
var defaultLoggerFactory = logging.NewDefaultLoggerFactory()

func newLogger(f logging.LoggerFactory) logging.LeveledLogger {
	if f == nil {
		f = defaultLoggerFactory
	}
	return f.NewLogger("sctp")
}
