// Copyright (c) 2025 The seqpacket Authors
// Use of this source code is governed by a MIT
// license that can be found in the LICENSE file.

//go:build linux

package sctp

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/pion/logging"
	"golang.org/x/sys/unix"
)

// SCTPEndpoint is a one-to-many style SCTP socket. A single endpoint
// multiplexes any number of associations, inbound and outbound, each
// identified by an [AssocID]. Inbound associations are set up
// implicitly by the kernel when a peer connects; they surface through
// [SCTPEndpoint.Receive] with a new association id.
//
// Multiple goroutines may invoke methods on an SCTPEndpoint
// simultaneously.
type SCTPEndpoint struct {
	fd *sctpFD

	connMu sync.Mutex // serializes Connect calls

	recvMu       sync.Mutex // guards the notification scratch below
	notifScratch []byte
}

func (ep *SCTPEndpoint) ok() bool { return ep != nil && ep.fd != nil }

// LocalAddr returns the local address set the endpoint was bound
// with. The value is shared between invocations, do not modify it.
func (ep *SCTPEndpoint) LocalAddr() net.Addr {
	if !ep.ok() {
		return nil
	}
	return ep.fd.laddr.Load()
}

// Close closes the endpoint's socket. Every association multiplexed
// on it is shut down gracefully, as if by Disconnect.
func (ep *SCTPEndpoint) Close() error {
	if !ep.ok() {
		return errEINVAL
	}
	if err := ep.fd.close(); err != nil {
		return &net.OpError{Op: "close", Net: ep.fd.net, Source: nil, Addr: ep.fd.laddr.Load(), Err: err}
	}
	return nil
}

// SetDeadline sets both the receive and send deadlines of the socket.
// The deadline applies to the endpoint as a whole, not to a single
// association. A zero time value disables the deadline.
func (ep *SCTPEndpoint) SetDeadline(t time.Time) error {
	if !ep.ok() {
		return errEINVAL
	}
	if err := ep.fd.f.SetDeadline(t); err != nil {
		return &net.OpError{Op: "set", Net: ep.fd.net, Source: nil, Addr: ep.fd.laddr.Load(), Err: err}
	}
	return nil
}

// SetReadDeadline sets the deadline for Receive and ReceiveMsg calls.
func (ep *SCTPEndpoint) SetReadDeadline(t time.Time) error {
	if !ep.ok() {
		return errEINVAL
	}
	if err := ep.fd.f.SetReadDeadline(t); err != nil {
		return &net.OpError{Op: "set", Net: ep.fd.net, Source: nil, Addr: ep.fd.laddr.Load(), Err: err}
	}
	return nil
}

// SetWriteDeadline sets the deadline for SendTo and WriteMsg calls.
func (ep *SCTPEndpoint) SetWriteDeadline(t time.Time) error {
	if !ep.ok() {
		return errEINVAL
	}
	if err := ep.fd.f.SetWriteDeadline(t); err != nil {
		return &net.OpError{Op: "set", Net: ep.fd.net, Source: nil, Addr: ep.fd.laddr.Load(), Err: err}
	}
	return nil
}

// EndpointConfig contains options for creating a one-to-many
// endpoint.
type EndpointConfig struct {
	// If Control is not nil, it is called after creating the socket
	// but before binding it to the operating system.
	//
	// Network and address parameters passed to Control method are not
	// necessarily the ones passed to ListenEndpoint. For example, passing
	// "sctp" will cause the Control function to be called with "sctp4"
	// or "sctp6".
	Control func(network, address string, c syscall.RawConn) error

	// InitMsg provides parameters for initializing new associations.
	// The zero value leaves the kernel defaults in place.
	InitMsg InitMsg

	// Backlog limits the number of inbound associations being
	// established concurrently. If zero, the value of
	// /proc/sys/net/core/somaxconn is used.
	Backlog int

	// LoggerFactory produces the leveled logger used by the endpoint.
	// If nil, a default stderr factory is used.
	LoggerFactory logging.LoggerFactory
}

func (cfg *EndpointConfig) backlog() int {
	if cfg.Backlog > 0 {
		return cfg.Backlog
	}
	return listenerBacklog()
}

// ListenEndpoint creates a one-to-many endpoint bound to the local
// network address. The network must be "sctp", "sctp4" or "sctp6".
// Address syntax is the one described in [Listen], including
// '/'-separated multi-homed sets.
//
// The endpoint accepts inbound associations immediately; there is no
// separate accept step. Use [SCTPEndpoint.Receive] to read data from
// any association and [SCTPEndpoint.Connect] to set up outbound ones.
func ListenEndpoint(network, address string) (*SCTPEndpoint, error) {
	var cfg EndpointConfig
	return cfg.ListenEndpoint(network, address)
}

// ListenEndpointSCTP acts like [ListenEndpoint] but takes a resolved
// SCTPAddr.
func ListenEndpointSCTP(network string, laddr *SCTPAddr) (*SCTPEndpoint, error) {
	var cfg EndpointConfig
	return cfg.ListenEndpointSCTP(network, laddr)
}

func (cfg *EndpointConfig) ListenEndpoint(network, address string) (*SCTPEndpoint, error) {
	laddr, err := resolveSCTPAddr("listen", network, address, nil)
	if err != nil {
		return nil, &net.OpError{Op: "listen", Net: network, Source: nil, Addr: nil, Err: err}
	}
	return cfg.ListenEndpointSCTP(network, laddr)
}

func (cfg *EndpointConfig) ListenEndpointSCTP(network string, laddr *SCTPAddr) (*SCTPEndpoint, error) {
	switch network {
	case "sctp", "sctp4", "sctp6":
	default:
		return nil, &net.OpError{Op: "listen", Net: network, Source: nil, Addr: laddr.opAddr(), Err: net.UnknownNetworkError(network)}
	}
	if laddr != nil && !laddr.isEmpty() {
		if err := checkAddrSet(network, laddr); err != nil {
			return nil, &net.OpError{Op: "listen", Net: network, Source: nil, Addr: laddr.opAddr(), Err: err}
		}
	}
	fd, err := endpointSocket(network, laddr, cfg)
	if err != nil {
		return nil, &net.OpError{Op: "listen", Net: network, Source: nil, Addr: laddr.opAddr(), Err: err}
	}
	return &SCTPEndpoint{fd: fd}, nil
}

// Connect sets up an association to the given address and returns its
// id. Address syntax is the one described in [Dial].
//
// Connect returns as soon as the kernel has started the association
// setup; it does not wait for the handshake to complete. Messages
// sent to the returned id before establishment are queued by the
// kernel. If the setup ultimately fails, Receive reports the
// association terminated with io.EOF.
func (ep *SCTPEndpoint) Connect(address string) (AssocID, error) {
	if !ep.ok() {
		return 0, errEINVAL
	}
	raddr, err := resolveSCTPAddr("connect", ep.fd.net, address, nil)
	if err != nil {
		return 0, &net.OpError{Op: "connect", Net: ep.fd.net, Source: ep.fd.laddr.Load().opAddr(), Addr: nil, Err: err}
	}
	return ep.ConnectSCTP(raddr)
}

// ConnectSCTP acts like [SCTPEndpoint.Connect] but takes a resolved
// SCTPAddr.
func (ep *SCTPEndpoint) ConnectSCTP(raddr *SCTPAddr) (AssocID, error) {
	if !ep.ok() {
		return 0, errEINVAL
	}
	if raddr == nil || raddr.isEmpty() {
		return 0, &net.OpError{Op: "connect", Net: ep.fd.net, Source: ep.fd.laddr.Load().opAddr(), Addr: raddr.opAddr(), Err: ErrInvalidAddress}
	}
	if err := checkAddrSet(ep.fd.net, raddr); err != nil {
		return 0, &net.OpError{Op: "connect", Net: ep.fd.net, Source: ep.fd.laddr.Load().opAddr(), Addr: raddr.opAddr(), Err: err}
	}

	ep.connMu.Lock()
	defer ep.connMu.Unlock()

	var id AssocID
	var err error
	doErr := ep.fd.rc.Control(func(s uintptr) {
		id, err = sysConnectx3(int(s), ep.fd.family, raddr)
	})
	if doErr != nil {
		return 0, doErr
	}
	switch err {
	case nil, unix.EISCONN, unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
		// the association id is valid as soon as the kernel has
		// allocated it, even while the handshake is in flight
		return id, nil
	}
	return 0, &net.OpError{Op: "connect", Net: ep.fd.net, Source: ep.fd.laddr.Load().opAddr(), Addr: raddr.opAddr(),
		Err: os.NewSyscallError("connectx", err)}
}

// SendTo transmits b as a single message on the association
// identified by id, on SCTP stream number 0.
// Sending to an id whose association has terminated fails with an
// error matching [ErrUnknownAssociation].
func (ep *SCTPEndpoint) SendTo(b []byte, id AssocID) (int, error) {
	return ep.WriteMsg(b, &SndInfo{AssocID: id})
}

// WriteMsg transmits b as a single message with explicit send
// attributes: the destination association id, the SCTP stream number,
// the payload protocol identifier and send flags. A nil info is
// rejected, the destination association would be undefined.
func (ep *SCTPEndpoint) WriteMsg(b []byte, info *SndInfo) (int, error) {
	if !ep.ok() {
		return 0, errEINVAL
	}
	if info == nil {
		return 0, errEINVAL
	}
	n, err := ep.fd.writeMsg(b, info, nil, 0)
	if err != nil {
		if errors.Is(err, unix.EPIPE) {
			err = ErrUnknownAssociation
		}
		err = &net.OpError{Op: "write", Net: ep.fd.net, Source: ep.fd.laddr.Load(), Addr: nil, Err: err}
	}
	return n, err
}

// Receive reads the next data message into b and reports which
// association it arrived from. If b cannot hold the whole message,
// the remainder is returned by subsequent calls.
//
// When an association terminates, gracefully or not, Receive returns
// (0, id, io.EOF) for it once, after which the id is invalid. The
// endpoint itself stays usable for all other associations.
func (ep *SCTPEndpoint) Receive(b []byte) (int, AssocID, error) {
	if !ep.ok() {
		return 0, 0, errEINVAL
	}
	ep.recvMu.Lock()
	defer ep.recvMu.Unlock()

	for {
		n, rcvInfo, recvFlags, err := ep.fd.readMsg(b)
		if err != nil {
			if err == io.EOF {
				return 0, 0, io.EOF
			}
			return 0, 0, &net.OpError{Op: "read", Net: ep.fd.net, Source: ep.fd.laddr.Load(), Addr: nil, Err: err}
		}

		if recvFlags&SCTP_NOTIFICATION == 0 {
			var id AssocID
			if rcvInfo != nil {
				id = rcvInfo.AssocID
			}
			return n, id, nil
		}

		// a notification, possibly one part of it; assemble until
		// SCTP_EOR before parsing
		ep.notifScratch = append(ep.notifScratch, b[:n]...)
		if recvFlags&SCTP_EOR == 0 {
			continue
		}
		event, perr := ParseEvent(ep.notifScratch)
		ep.notifScratch = ep.notifScratch[:0]
		if perr != nil {
			ep.fd.log.Warnf("receive: dropping unparsable notification: %v", perr)
			continue
		}
		if ace, ok := event.(*AssocChangeEvent); ok && ace.terminated() {
			return 0, ace.AssocID, io.EOF
		}
	}
}

// ReceiveMsg is the raw form of [SCTPEndpoint.Receive]. It reads the
// next message, data or notification, without any assembly or event
// interpretation. The returned flags carry SCTP_NOTIFICATION and
// SCTP_EOR as delivered by the kernel.
func (ep *SCTPEndpoint) ReceiveMsg(b []byte) (n int, rcvInfo *RcvInfo, recvFlags int, err error) {
	if !ep.ok() {
		return 0, nil, 0, errEINVAL
	}
	n, rcvInfo, recvFlags, err = ep.fd.readMsg(b)
	if err != nil && err != io.EOF {
		err = &net.OpError{Op: "read", Net: ep.fd.net, Source: ep.fd.laddr.Load(), Addr: nil, Err: err}
	}
	return n, rcvInfo, recvFlags, err
}

// Disconnect initiates a graceful shutdown of one association,
// leaving the endpoint and all other associations untouched.
func (ep *SCTPEndpoint) Disconnect(id AssocID) error {
	if !ep.ok() {
		return errEINVAL
	}
	_, err := ep.fd.writeMsg(nil, &SndInfo{Flags: SCTP_EOF, AssocID: id}, nil, 0)
	if err != nil {
		if errors.Is(err, unix.EPIPE) {
			err = ErrUnknownAssociation
		}
		return &net.OpError{Op: "close", Net: ep.fd.net, Source: ep.fd.laddr.Load(), Addr: nil, Err: err}
	}
	return nil
}

// PeerAddrs returns all addresses of the peer of the association
// identified by id. An id that does not name a live association fails
// with an error matching [ErrUnknownAssociation].
func (ep *SCTPEndpoint) PeerAddrs(id AssocID) (*SCTPAddr, error) {
	if !ep.ok() {
		return nil, errEINVAL
	}
	a, err := ep.fd.retrieveRemoteAddr(id)
	if err != nil {
		if errors.Is(err, unix.EINVAL) {
			err = ErrUnknownAssociation
		}
		return nil, &net.OpError{Op: "get", Net: ep.fd.net, Source: ep.fd.laddr.Load(), Addr: nil, Err: err}
	}
	return a, nil
}

// LocalAddrs returns all local addresses the endpoint is bound to,
// fetched from the kernel, reflecting BindAdd and BindRemove calls.
func (ep *SCTPEndpoint) LocalAddrs() (*SCTPAddr, error) {
	if !ep.ok() {
		return nil, errEINVAL
	}
	a, err := ep.fd.retrieveLocalAddr(0)
	if err != nil {
		return nil, &net.OpError{Op: "get", Net: ep.fd.net, Source: ep.fd.laddr.Load(), Addr: nil, Err: err}
	}
	return a, nil
}

// BindAdd associates additional local addresses with the endpoint.
// Established associations keep their address lists; new ones use the
// extended set.
//
// Port number should be absent from the address string.
func (ep *SCTPEndpoint) BindAdd(address string) error {
	if !ep.ok() {
		return errEINVAL
	}
	laddr, err := resolveSCTPAddr("bindx", ep.fd.net, address, nil)
	if err != nil {
		return &net.OpError{Op: "bindx", Net: ep.fd.net, Source: nil, Addr: ep.fd.laddr.Load(),
			Err: errors.New("add address: " + address + ": " + err.Error())}
	}
	laddr.Port = ep.fd.laddr.Load().Port
	if err := ep.fd.bind(laddr, _SCTP_SOCKOPT_BINDX_ADD); err != nil {
		return &net.OpError{Op: "bindx", Net: ep.fd.net, Source: nil, Addr: ep.fd.laddr.Load(),
			Err: errors.New("add address: " + laddr.String() + ": " + err.Error())}
	}
	return nil
}

// BindRemove removes some of the local addresses the endpoint is
// bound to.
//
// Port number should be absent from the address string.
func (ep *SCTPEndpoint) BindRemove(address string) error {
	if !ep.ok() {
		return errEINVAL
	}
	laddr, err := resolveSCTPAddr("bindx", ep.fd.net, address, nil)
	if err != nil {
		return &net.OpError{Op: "bindx", Net: ep.fd.net, Source: nil, Addr: ep.fd.laddr.Load(),
			Err: errors.New("remove address: " + address + ": " + err.Error())}
	}
	laddr.Port = ep.fd.laddr.Load().Port
	if err := ep.fd.bind(laddr, _SCTP_SOCKOPT_BINDX_REM); err != nil {
		return &net.OpError{Op: "bindx", Net: ep.fd.net, Source: nil, Addr: ep.fd.laddr.Load(),
			Err: errors.New("remove address: " + laddr.String() + ": " + err.Error())}
	}
	return nil
}

// Subscribe to one or more of the SCTP event types, delivered through
// [SCTPEndpoint.ReceiveMsg] flagged with SCTP_NOTIFICATION.
// SCTP_ASSOC_CHANGE is always subscribed; Receive depends on it.
func (ep *SCTPEndpoint) Subscribe(event ...EventType) error {
	if !ep.ok() {
		return errEINVAL
	}
	for _, e := range event {
		if err := ep.fd.subscribe(e, true); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe from one or more of the SCTP event types previously
// subscribed to. Unsubscribing SCTP_ASSOC_CHANGE is rejected, Receive
// depends on it to detect association termination.
func (ep *SCTPEndpoint) Unsubscribe(event ...EventType) error {
	if !ep.ok() {
		return errEINVAL
	}
	for _, e := range event {
		if e == SCTP_ASSOC_CHANGE {
			return errEINVAL
		}
		if err := ep.fd.subscribe(e, false); err != nil {
			return err
		}
	}
	return nil
}

// SetBuffer sets the kernel buffer size for the given direction of
// the endpoint's socket, both directions for SoBoth. The buffers are
// shared by all associations of the endpoint.
func (ep *SCTPEndpoint) SetBuffer(dir SoDirection, bytes int) error {
	if !ep.ok() {
		return errEINVAL
	}
	if err := ep.fd.setBuffer(dir, bytes); err != nil {
		return &net.OpError{Op: "set", Net: ep.fd.net, Source: nil, Addr: ep.fd.laddr.Load(), Err: err}
	}
	return nil
}

// GetBuffer returns the kernel buffer size for the given direction of
// the endpoint's socket. SoBoth is not a valid argument here.
func (ep *SCTPEndpoint) GetBuffer(dir SoDirection) (int, error) {
	if !ep.ok() {
		return 0, errEINVAL
	}
	n, err := ep.fd.getBuffer(dir)
	if err != nil {
		return 0, &net.OpError{Op: "get", Net: ep.fd.net, Source: nil, Addr: ep.fd.laddr.Load(), Err: err}
	}
	return n, nil
}
