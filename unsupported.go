// Copyright (c) 2025 The seqpacket Authors
// Use of this source code is governed by a MIT
// license that can be found in the LICENSE file.

//go:build !linux

package sctp

import (
	"errors"
	"net"
	"runtime"
	"syscall"
)

// ErrNotSupported is returned by every operation on platforms other
// than linux, where the kernel SCTP stack this package drives is not
// available. Address parsing and formatting still work.
var ErrNotSupported = errors.New("sctp is not supported on " + runtime.GOOS)

var errNoSuitableAddress = errors.New("no suitable address found")

func ipToSockaddrInet4(ip net.IP, port int) (syscall.SockaddrInet4, error) {
	return syscall.SockaddrInet4{}, ErrNotSupported
}

func sockaddrInet4ToBuf(sa4 syscall.SockaddrInet4) ([]byte, error) {
	return nil, ErrNotSupported
}

func ipToSockaddrInet6(ip net.IP, port int, zone string) (syscall.SockaddrInet6, error) {
	return syscall.SockaddrInet6{}, ErrNotSupported
}

func sockaddrInet6ToBuf(sa6 syscall.SockaddrInet6) ([]byte, error) {
	return nil, ErrNotSupported
}
