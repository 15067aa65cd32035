// Copyright (c) 2025 The seqpacket Authors
// Use of this source code is governed by a MIT
// license that can be found in the LICENSE file.

//go:build linux

package sctp

import (
	"errors"
	"io"
	"net"
)

// SCTPStream is a one-to-one style SCTP association, obtained from
// [Dial] or [SCTPListener.Accept]. It implements the [net.Conn]
// interface.
//
// The plain Read and Write methods treat the association as a byte
// stream on SCTP stream number 0; ReadMsg and WriteMsg expose the
// message-oriented SCTP surface.
type SCTPStream struct {
	conn
}

// BindAdd associates additional addresses with an already bound endpoint (i.e. socket).
// If the endpoint supports dynamic address reconfiguration, BindAdd may cause an
// endpoint to send the appropriate message to its peer to change the peer's address lists.
//
// Port number should be absent from the address string.
//
// The outcome of BindAdd and BindRemove is affected by `net.sctp.addip_enable` and
// `net.sctp.addip_noauth_enable` kernel parameters.
func (c *SCTPStream) BindAdd(address string) error {
	if !c.ok() {
		return errEINVAL
	}
	laddr, err := resolveSCTPAddr("bindx", c.fd.net, address, nil)
	if err != nil {
		return &net.OpError{Op: "bindx", Net: c.fd.net, Source: nil, Addr: c.fd.laddr.Load(),
			Err: errors.New("add address: " + address + ": " + err.Error())}
	}
	laddr.Port = c.LocalAddr().(*SCTPAddr).Port
	return c.BindAddSCTP(laddr)
}

func (c *SCTPStream) BindAddSCTP(laddr *SCTPAddr) error {
	if !c.ok() {
		return errEINVAL
	}
	if err := c.fd.bind(laddr, _SCTP_SOCKOPT_BINDX_ADD); err != nil {
		return &net.OpError{Op: "bindx", Net: c.fd.net, Source: nil, Addr: c.fd.laddr.Load(),
			Err: errors.New("add address: " + laddr.String() + ": " + err.Error())}
	}
	return nil
}

// BindRemove removes some addresses with which a bound socket is associated.
// If the endpoint supports dynamic address reconfiguration, BindRemove may cause an
// endpoint to send the appropriate message to its peer to change the peer's address lists.
//
// Port number should be absent from the address string.
//
// The outcome of BindAdd and BindRemove is affected by `net.sctp.addip_enable` and
// `net.sctp.addip_noauth_enable` kernel parameters.
func (c *SCTPStream) BindRemove(address string) error {
	if !c.ok() {
		return errEINVAL
	}
	laddr, err := resolveSCTPAddr("bindx", c.fd.net, address, nil)
	if err != nil {
		return &net.OpError{Op: "bindx", Net: c.fd.net, Source: nil, Addr: c.fd.laddr.Load(),
			Err: errors.New("remove address: " + address + ": " + err.Error())}
	}
	laddr.Port = c.LocalAddr().(*SCTPAddr).Port
	return c.BindRemoveSCTP(laddr)
}

func (c *SCTPStream) BindRemoveSCTP(laddr *SCTPAddr) error {
	if !c.ok() {
		return errEINVAL
	}
	if err := c.fd.bind(laddr, _SCTP_SOCKOPT_BINDX_REM); err != nil {
		return &net.OpError{Op: "bindx", Net: c.fd.net, Source: nil, Addr: c.fd.laddr.Load(),
			Err: errors.New("remove address: " + laddr.String() + ": " + err.Error())}
	}
	return nil
}

// ReadMsg reads a message from the socket and stores it into b.
// If there is no room for the message in b, ReadMsg fills b with part
// of the message and clears SCTP_EOR flag in recvFlags. The rest of the message
// should be retrieved using subsequent calls to ReadMsg, the last one having
// SCTP_EOR set.
// The message stored in b can be a regular message or a notification (event)
// message. Notifications are returned only if and after Subscribe is called
// on the originating listener. If the message is a notification, the
// SCTP_NOTIFICATION flag is set in recvFlags.
// A ReadMsg call returns at most one notification at a time. Just
// as when reading normal data, it may return part of a notification if
// the buffer passed is not large enough. If a single read is not
// sufficient, recvFlags will have SCTP_EOR clear. The caller must finish
// reading the notification before subsequent data can arrive.
// A whole notification message can be parsed with the ParseEvent function.
//
// ReadMsg returns:
//
//	n: number of bytes read and stored into b
//	rcvInfo: information about the received message
//	recvFlags: received message flags (i.e. SCTP_NOTIFICATION, SCTP_EOR)
//	err: error
func (c *SCTPStream) ReadMsg(b []byte) (n int, rcvInfo *RcvInfo, recvFlags int, err error) {
	if !c.ok() {
		return 0, nil, 0, errEINVAL
	}
	n, rcvInfo, recvFlags, err = c.fd.readMsg(b)
	if err != nil && err != io.EOF {
		err = &net.OpError{Op: "read", Net: c.fd.net, Source: c.fd.laddr.Load(), Addr: c.fd.raddr.Load(), Err: err}
	}
	return n, rcvInfo, recvFlags, err
}

// WriteMsg is a simplified form of WriteMsgExt
func (c *SCTPStream) WriteMsg(b []byte, info *SndInfo) (int, error) {
	return c.WriteMsgExt(b, info, nil)
}

// WriteMsgExt transmits the data passed in b to the peer as a single
// message. The optional info specifies the send behavior, such as the
// SCTP stream number to use or the payload protocol identifier
// (Ppid). If info is nil the data is sent on stream number 0.
// If the caller wants to send the message to a specific peer address
// (hence overriding the primary address), it can provide the specific
// address in the to argument.
//
// This call may also be used to terminate the association: the
// caller provides an SndInfo struct with the Flags field set to
// SCTP_EOF.
//
// WriteMsgExt returns the number of bytes accepted by the kernel or an
// error in case of any.
//
// If the default behavior is sufficient, the plain Write method can
// be used instead.
func (c *SCTPStream) WriteMsgExt(b []byte, info *SndInfo, to *net.IPAddr) (int, error) {
	if !c.ok() {
		return 0, errEINVAL
	}
	var port int
	if ra := c.fd.raddr.Load(); ra != nil {
		port = ra.Port
	} else if to != nil {
		return 0, errEINVAL
	}
	n, err := c.fd.writeMsg(b, info, to, port)
	if err != nil {
		err = &net.OpError{Op: "write", Net: c.fd.net, Source: c.fd.laddr.Load(), Addr: c.fd.raddr.Load(), Err: err}
	}
	return n, err
}

// Shutdown disables further operations in the given direction.
//
// Shutting down the send direction initiates the full SCTP shutdown
// sequence, unlike TCP where SHUT_WR leads to a half-closed state.
// The socket descriptor stays open, allowing the caller to drain data
// the peer had in flight; the reading side observes the end of the
// association as io.EOF. Shutting down the receive direction is a
// local operation with no protocol action.
//
// Close should still be called afterwards to release the descriptor.
func (c *SCTPStream) Shutdown(dir SoDirection) error {
	if !c.ok() {
		return errEINVAL
	}
	if err := c.fd.shutdown(dir); err != nil {
		return &net.OpError{Op: "shutdown", Net: c.fd.net, Source: c.fd.laddr.Load(), Addr: c.fd.raddr.Load(), Err: err}
	}
	return nil
}

// CloseRead disables further receive operations. It is shorthand for
// Shutdown(SoReceive).
func (c *SCTPStream) CloseRead() error { return c.Shutdown(SoReceive) }

// CloseWrite disables further send operations and initiates the SCTP
// shutdown sequence. It is shorthand for Shutdown(SoSend).
func (c *SCTPStream) CloseWrite() error { return c.Shutdown(SoSend) }

// LocalAddrs returns all local addresses the association is bound to,
// fetched from the kernel. Unlike LocalAddr it reflects BindAdd and
// BindRemove calls made after the association was established.
func (c *SCTPStream) LocalAddrs() (*SCTPAddr, error) {
	if !c.ok() {
		return nil, errEINVAL
	}
	a, err := c.fd.retrieveLocalAddr(0)
	if err != nil {
		return nil, &net.OpError{Op: "get", Net: c.fd.net, Source: c.fd.laddr.Load(), Addr: c.fd.raddr.Load(), Err: err}
	}
	return a, nil
}

// PeerAddrs returns all addresses of the peer, fetched from the
// kernel, reflecting dynamic address reconfiguration performed by the
// peer after the association was established.
func (c *SCTPStream) PeerAddrs() (*SCTPAddr, error) {
	if !c.ok() {
		return nil, errEINVAL
	}
	a, err := c.fd.retrieveRemoteAddr(0)
	if err != nil {
		return nil, &net.OpError{Op: "get", Net: c.fd.net, Source: c.fd.laddr.Load(), Addr: c.fd.raddr.Load(), Err: err}
	}
	c.fd.raddr.Store(a)
	return a, nil
}

// SetNoDelay turns on/off any Nagle-like algorithm. This means that
// packets are generally sent as soon as possible, and no unnecessary
// delays are introduced, at the cost of more packets in the network.
// In particular, not using any Nagle-like algorithm might reduce the
// bundling of small user messages in cases where this would require an
// additional delay.
// Turning this option on disables any Nagle-like algorithm.
func (c *SCTPStream) SetNoDelay(noDelay bool) error {
	if !c.ok() {
		return errEINVAL
	}
	if err := c.fd.setNoDelay(noDelay); err != nil {
		return &net.OpError{Op: "set", Net: c.fd.net, Source: c.fd.laddr.Load(), Addr: c.fd.raddr.Load(), Err: err}
	}
	return nil
}

func (c *SCTPStream) GetNoDelay() (bool, error) {
	if !c.ok() {
		return false, errEINVAL
	}
	b, err := c.fd.getNoDelay()
	if err != nil {
		return false, &net.OpError{Op: "get", Net: c.fd.net, Source: c.fd.laddr.Load(), Addr: c.fd.raddr.Load(), Err: err}
	}
	return b, nil
}

// SetDisableFragments turns an on/off flag. If enabled, no SCTP message
// fragmentation will be performed. The effect of enabling this option
// is that if a message being sent exceeds the current Path MTU (PMTU)
// size, the message will not be sent and instead an error will be
// indicated to the user. If this option is disabled (the default),
// then a message exceeding the size of the PMTU will be fragmented and
// reassembled by the peer.
func (c *SCTPStream) SetDisableFragments(disableFragments bool) error {
	if !c.ok() {
		return errEINVAL
	}
	if err := c.fd.setDisableFragments(disableFragments); err != nil {
		return &net.OpError{Op: "set", Net: c.fd.net, Source: c.fd.laddr.Load(), Addr: c.fd.raddr.Load(), Err: err}
	}
	return nil
}

func (c *SCTPStream) GetDisableFragments() (bool, error) {
	if !c.ok() {
		return false, errEINVAL
	}
	b, err := c.fd.getDisableFragments()
	if err != nil {
		return false, &net.OpError{Op: "get", Net: c.fd.net, Source: c.fd.laddr.Load(), Addr: c.fd.raddr.Load(), Err: err}
	}
	return b, nil
}

// SetMaxSeg sets the maximum size in bytes of an SCTP DATA chunk
// payload. Messages larger than this are fragmented regardless of the
// Path MTU. Zero restores the kernel default (fragmentation at PMTU).
func (c *SCTPStream) SetMaxSeg(maxSeg uint32) error {
	if !c.ok() {
		return errEINVAL
	}
	if err := c.fd.setMaxseg(maxSeg); err != nil {
		return &net.OpError{Op: "set", Net: c.fd.net, Source: c.fd.laddr.Load(), Addr: c.fd.raddr.Load(), Err: err}
	}
	return nil
}

func (c *SCTPStream) GetMaxSeg() (uint32, error) {
	if !c.ok() {
		return 0, errEINVAL
	}
	n, err := c.fd.getMaxseg()
	if err != nil {
		return 0, &net.OpError{Op: "get", Net: c.fd.net, Source: c.fd.laddr.Load(), Addr: c.fd.raddr.Load(), Err: err}
	}
	return n, nil
}

// SetBuffer sets the kernel buffer size for the given direction of
// the socket, both directions for SoBoth.
func (c *SCTPStream) SetBuffer(dir SoDirection, bytes int) error {
	if !c.ok() {
		return errEINVAL
	}
	if err := c.fd.setBuffer(dir, bytes); err != nil {
		return &net.OpError{Op: "set", Net: c.fd.net, Source: c.fd.laddr.Load(), Addr: c.fd.raddr.Load(), Err: err}
	}
	return nil
}

// GetBuffer returns the kernel buffer size for the given direction of
// the socket. SoBoth is not a valid argument here.
func (c *SCTPStream) GetBuffer(dir SoDirection) (int, error) {
	if !c.ok() {
		return 0, errEINVAL
	}
	n, err := c.fd.getBuffer(dir)
	if err != nil {
		return 0, &net.OpError{Op: "get", Net: c.fd.net, Source: c.fd.laddr.Load(), Addr: c.fd.raddr.Load(), Err: err}
	}
	return n, nil
}

// SetLinger sets the behavior of Close on a connection which still
// has data waiting to be sent or to be acknowledged.
//
// If sec < 0 (the default), SCTP attempts to close the connection
// gracefully by sending a SHUTDOWN message and finish
// sending/acknowledging the data in the background.
//
// If sec == 0, SCTP discards any unsent or unacknowledged data and
// sends an ABORT chunk.
//
// If sec > 0, the data is sent in the background as with sec < 0.
// The Close can be blocked for at most sec time. Note that the
// time unit is in seconds, according to POSIX, but might be different
// on specific platforms. If the graceful shutdown phase does not
// finish during this period, Close will return, but the graceful
// shutdown phase will continue in the system.
func (c *SCTPStream) SetLinger(sec int) error {
	if !c.ok() {
		return errEINVAL
	}
	if err := c.fd.setLinger(sec); err != nil {
		return &net.OpError{Op: "set", Net: c.fd.net, Source: c.fd.laddr.Load(), Addr: c.fd.raddr.Load(), Err: err}
	}
	return nil
}

func newSCTPStream(fd *sctpFD) *SCTPStream {
	_ = fd.setNoDelay(true)
	return &SCTPStream{conn{fd: fd}}
}
