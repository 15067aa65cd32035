// Copyright (c) 2025 The seqpacket Authors
// Use of this source code is governed by a MIT
// license that can be found in the LICENSE file.

package sctp

import (
	"errors"
	"net"
	"os"
	"syscall"
)

// Failures are reported as *net.OpError values wrapping one of the
// sentinels below or the underlying syscall error. The Op field names
// the failed operation ("listen", "dial", "accept", "bindx", "read",
// "write", "close"). Use errors.Is to classify:
//
//	errors.Is(err, sctp.ErrInvalidAddress)
//	errors.Is(err, sctp.ErrClosed)
var (
	// ErrInvalidAddress reports an empty or malformed address set.
	// It is returned before any socket is created.
	ErrInvalidAddress = errors.New("invalid address set")

	// ErrAddressFamily reports an address set mixing IPv4 and IPv6
	// addresses on a single-family network.
	ErrAddressFamily = errors.New("mixed address families")

	// ErrUnknownAssociation reports a send to an association id that
	// is no longer valid on a one-to-many endpoint.
	ErrUnknownAssociation = errors.New("unknown association")

	// ErrWouldBlock reports that a non-blocking operation could not
	// complete immediately. It is only seen on sockets taken out of
	// the runtime poller's blocking mode through SyscallConn.
	ErrWouldBlock error = syscall.EAGAIN

	// ErrClosed reports an operation on a handle whose descriptor has
	// been released. Blocked calls interrupted by a concurrent Close
	// fail with an error matching net.ErrClosed instead.
	ErrClosed error = os.ErrClosed
)

// errClosed reports whether err indicates a released descriptor,
// either detected up front (os.ErrClosed) or by the poller unblocking
// a pending call (net.ErrClosed).
func errClosed(err error) bool {
	return errors.Is(err, os.ErrClosed) || errors.Is(err, net.ErrClosed)
}
