// Copyright (c) 2025 The seqpacket Authors
// Use of this source code is governed by a MIT
// license that can be found in the LICENSE file.

//go:build linux

package sctp

// Binder is the dynamic address reconfiguration surface shared by
// [SCTPListener], [SCTPStream] and [SCTPEndpoint]. Address strings
// carry no port, '/'-separated for multi-homed sets, as in
// "10.0.0.3/10.0.0.4".
type Binder interface {
	// BindAdd binds additional local addresses to the socket.
	BindAdd(address string) error

	// BindRemove unbinds local addresses from the socket.
	BindRemove(address string) error
}

var (
	_ Binder = (*SCTPListener)(nil)
	_ Binder = (*SCTPStream)(nil)
	_ Binder = (*SCTPEndpoint)(nil)
)
