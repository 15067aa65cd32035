// Copyright (c) 2025 The seqpacket Authors
// Use of this source code is governed by a MIT
// license that can be found in the LICENSE file.

//go:build linux

package sctp

import (
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/pion/logging"
)

// SCTPListener is a one-to-one style SCTP network listener. Accepted
// connections are SCTPStream values, each owning its own socket.
//
// Multiple goroutines may invoke methods on an SCTPListener
// simultaneously.
type SCTPListener struct {
	fd *sctpFD
}

// ListenConfig contains options for listening to an address.
type ListenConfig struct {
	// If Control is not nil, it is called after creating the network
	// connection but before binding it to the operating system.
	//
	// Network and address parameters passed to Control method are not
	// necessarily the ones passed to Listen. For example, passing "sctp" to
	// Listen will cause the Control function to be called with "sctp4" or "sctp6".
	Control func(network, address string, c syscall.RawConn) error

	// InitMsg provides parameters for initializing new associations.
	// The zero value leaves the kernel defaults in place.
	InitMsg InitMsg

	// Backlog overrides the listen queue length. If zero, the value
	// of /proc/sys/net/core/somaxconn is used.
	Backlog int

	// LoggerFactory produces the leveled logger used by the listener
	// and the streams it accepts. If nil, a default stderr factory is
	// used.
	LoggerFactory logging.LoggerFactory
}

func (lc *ListenConfig) backlog() int {
	if lc.Backlog > 0 {
		return lc.Backlog
	}
	return listenerBacklog()
}

// Listen announces on the local network address.
//
// The network must be "sctp", "sctp4" or "sctp6".
//
// If the host in the address parameter is empty or
// a literal unspecified IP address, Listen listens on all available
// IP addresses of the local system.
// To only use IPv4, use network "sctp4".
// The address can use a host name, but this is not recommended,
// because it will create a listener for at most one of the host's IP
// addresses.
// If the port in the address parameter is empty or "0", as in
// "127.0.0.1:" or "[::1]:0", a port number is automatically chosen.
// The Addr method of SCTPListener can be used to discover the chosen
// port.
// Multiple addresses can be specified separated by '/' as in:
//
//	127.0.0.1/127.0.0.2:0 (sctp4 network)
//	[::1]/[::2]:0 (sctp6 network)
//	[::1]/127.0.0.1:0 (sctp network)
//
// The resulting listener is bound to all the given addresses at once
// (SCTP multi-homing).
func Listen(network, address string) (*SCTPListener, error) {
	var lc ListenConfig
	return lc.Listen(network, address)
}

// ListenSCTP acts like [Listen] but takes a resolved SCTPAddr.
//
// If laddr is nil or holds an unspecified IP address, ListenSCTP
// listens on all available IP addresses of the local system.
// If the Port field of laddr is 0, a port number is automatically
// chosen.
func ListenSCTP(network string, laddr *SCTPAddr) (*SCTPListener, error) {
	var lc ListenConfig
	return lc.ListenSCTP(network, laddr)
}

func (lc *ListenConfig) Listen(network, address string) (*SCTPListener, error) {
	laddr, err := resolveSCTPAddr("listen", network, address, nil)
	if err != nil {
		return nil, &net.OpError{Op: "listen", Net: network, Source: nil, Addr: nil, Err: err}
	}
	return lc.ListenSCTP(network, laddr)
}

func (lc *ListenConfig) ListenSCTP(network string, laddr *SCTPAddr) (*SCTPListener, error) {
	switch network {
	case "sctp", "sctp4", "sctp6":
	default:
		return nil, &net.OpError{Op: "listen", Net: network, Source: nil, Addr: laddr.opAddr(), Err: net.UnknownNetworkError(network)}
	}
	// a nil or wildcard local address is allowed here, a non-empty
	// one has to be family-consistent
	if laddr != nil && !laddr.isEmpty() {
		if err := checkAddrSet(network, laddr); err != nil {
			return nil, &net.OpError{Op: "listen", Net: network, Source: nil, Addr: laddr.opAddr(), Err: err}
		}
	}
	fd, err := serverSocket(network, laddr, lc)
	if err != nil {
		return nil, &net.OpError{Op: "listen", Net: network, Source: nil, Addr: laddr.opAddr(), Err: err}
	}
	return &SCTPListener{fd: fd}, nil
}

// Accept waits for and returns the next association to the listener.
func (ln *SCTPListener) Accept() (*SCTPStream, error) {
	if !ln.ok() {
		return nil, errEINVAL
	}
	fd, err := ln.fd.accept()
	if err != nil {
		return nil, &net.OpError{Op: "accept", Net: ln.fd.net, Source: nil, Addr: ln.fd.laddr.Load().opAddr(), Err: err}
	}
	return newSCTPStream(fd), nil
}

// Incoming returns an iterator over the connections arriving on ln.
// Its Next method blocks like Accept; iteration ends when the
// listener is closed.
func (ln *SCTPListener) Incoming() *Incoming {
	return &Incoming{ln: ln}
}

// Addr returns the listener's network address, a [*SCTPAddr] holding
// all addresses the listener is bound to.
// The Addr returned is shared by all invocations of Addr, so
// do not modify it.
func (ln *SCTPListener) Addr() net.Addr {
	if !ln.ok() {
		return nil
	}
	return ln.fd.laddr.Load()
}

// Close stops listening on the SCTP address.
// Already accepted connections are not closed.
func (ln *SCTPListener) Close() error {
	if !ln.ok() {
		return errEINVAL
	}
	if err := ln.fd.close(); err != nil {
		return &net.OpError{Op: "close", Net: ln.fd.net, Source: nil, Addr: ln.fd.laddr.Load().opAddr(), Err: err}
	}
	return nil
}

// SetDeadline sets the deadline associated with the listener.
// Accept calls blocked past the deadline fail with a timeout error.
// A zero time value disables the deadline.
func (ln *SCTPListener) SetDeadline(t time.Time) error {
	if !ln.ok() {
		return errEINVAL
	}
	return ln.fd.f.SetDeadline(t)
}

// BindAdd associates additional addresses with an already bound endpoint (i.e. socket).
// If the endpoint supports dynamic address reconfiguration, BindAdd may cause an
// endpoint to send the appropriate message to its peer to change the peer's address lists.
// New accepted associations will be associated with these
// addresses in addition to the already present ones.
//
// Port number should be absent from the address string.
//
// The outcome of BindAdd and BindRemove is affected by `net.sctp.addip_enable` and
// `net.sctp.addip_noauth_enable` kernel parameters.
func (ln *SCTPListener) BindAdd(address string) error {
	if !ln.ok() {
		return errEINVAL
	}
	laddr, err := resolveSCTPAddr("bindx", ln.fd.net, address, nil)
	if err != nil {
		return &net.OpError{Op: "bindx", Net: ln.fd.net, Source: nil, Addr: ln.fd.laddr.Load(),
			Err: errors.New("add address: " + address + ": " + err.Error())}
	}
	laddr.Port = ln.Addr().(*SCTPAddr).Port
	return ln.BindAddSCTP(laddr)
}

func (ln *SCTPListener) BindAddSCTP(laddr *SCTPAddr) error {
	if !ln.ok() {
		return errEINVAL
	}
	if err := ln.fd.bind(laddr, _SCTP_SOCKOPT_BINDX_ADD); err != nil {
		return &net.OpError{Op: "bindx", Net: ln.fd.net, Source: nil, Addr: ln.fd.laddr.Load(),
			Err: errors.New("add address: " + laddr.String() + ": " + err.Error())}
	}
	return nil
}

// BindRemove removes some addresses with which a bound socket is associated.
// If the endpoint supports dynamic address reconfiguration, BindRemove may cause an
// endpoint to send the appropriate message to its peer to change the peer's address lists.
// New associations accepted will not be associated with these addresses.
//
// Port number should be absent from the address string.
//
// The outcome of BindAdd and BindRemove is affected by `net.sctp.addip_enable` and
// `net.sctp.addip_noauth_enable` kernel parameters.
func (ln *SCTPListener) BindRemove(address string) error {
	if !ln.ok() {
		return errEINVAL
	}
	laddr, err := resolveSCTPAddr("bindx", ln.fd.net, address, nil)
	if err != nil {
		return &net.OpError{Op: "bindx", Net: ln.fd.net, Source: nil, Addr: ln.fd.laddr.Load(),
			Err: errors.New("remove address: " + address + ": " + err.Error())}
	}
	laddr.Port = ln.Addr().(*SCTPAddr).Port
	return ln.BindRemoveSCTP(laddr)
}

func (ln *SCTPListener) BindRemoveSCTP(laddr *SCTPAddr) error {
	if !ln.ok() {
		return errEINVAL
	}
	if err := ln.fd.bind(laddr, _SCTP_SOCKOPT_BINDX_REM); err != nil {
		return &net.OpError{Op: "bindx", Net: ln.fd.net, Source: nil, Addr: ln.fd.laddr.Load(),
			Err: errors.New("remove address: " + laddr.String() + ": " + err.Error())}
	}
	return nil
}

// Subscribe to one or more of the SCTP event types.
// By default, the listener is not subscribed to any events.
// The subscription is transferred to the new accepted connections,
// which then receive the events with ReadMsg, flagged with
// SCTP_NOTIFICATION in recvFlags.
func (ln *SCTPListener) Subscribe(event ...EventType) error {
	if !ln.ok() {
		return errEINVAL
	}
	for _, e := range event {
		if err := ln.fd.subscribe(e, true); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe from one or more of the SCTP event types previously
// subscribed to.
func (ln *SCTPListener) Unsubscribe(event ...EventType) error {
	if !ln.ok() {
		return errEINVAL
	}
	for _, e := range event {
		if err := ln.fd.subscribe(e, false); err != nil {
			return err
		}
	}
	return nil
}

func (ln *SCTPListener) ok() bool { return ln != nil && ln.fd != nil }

// Incoming iterates over the connections arriving on a listener.
type Incoming struct {
	ln *SCTPListener
}

// Next blocks until a connection arrives and returns it. After the
// listener is closed, Next fails with an error matching
// [net.ErrClosed].
func (in *Incoming) Next() (*SCTPStream, error) {
	return in.ln.Accept()
}
