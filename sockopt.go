// Copyright (c) 2025 The seqpacket Authors
// Use of this source code is governed by a MIT
// license that can be found in the LICENSE file.

//go:build linux

package sctp

import (
	"golang.org/x/sys/unix"
	"os"
	"runtime"
	"unsafe"
)

const (
	_SCTP_INITMSG           = 2
	_SCTP_NODELAY           = 3
	_SCTP_DISABLE_FRAGMENTS = 8
	_SCTP_MAXSEG            = 13
	_SCTP_RECVRCVINFO       = 32
	_SCTP_SOCKOPT_BINDX_ADD = 100
	_SCTP_SOCKOPT_BINDX_REM = 101
	_SCTP_EVENT             = 127
)

// SndInfo flags, settable in SndInfo.Flags on send.
const (
	// SCTP_UNORDERED requests un-ordered delivery of the message.
	SCTP_UNORDERED = 1 << iota

	// SCTP_ADDR_OVER, in one-to-many style, requests the kernel to
	// override the primary destination address with the address found
	// with the sendto/sendmsg call.
	SCTP_ADDR_OVER

	// SCTP_ABORT causes the specified association to abort by sending
	// an ABORT message to the peer. The flag is set implicitly when
	// a non-zero linger time is configured.
	SCTP_ABORT

	// SCTP_SACK_IMMEDIATELY requests the peer to sack the message
	// without delay.
	SCTP_SACK_IMMEDIATELY

	// SCTP_EOF invokes a graceful shutdown on the specified
	// association.
	SCTP_EOF = 0x200
)

// recvFlags values reported by ReadMsg and Receive.
const (
	// SCTP_NOTIFICATION is set when the read message is an event
	// notification rather than user data.
	SCTP_NOTIFICATION = 0x8000

	// SCTP_EOR is set when the read message is complete; clear when
	// only a part of it fit the buffer.
	SCTP_EOR = int(unix.MSG_EOR)
)

// SndInfo carries per-message send attributes, passed to the kernel
// as SCTP_SNDINFO ancillary data.
type SndInfo struct {
	// Sid is the SCTP stream number the message is sent on.
	Sid uint16

	// Flags is a bitwise OR of SCTP_UNORDERED, SCTP_ADDR_OVER,
	// SCTP_ABORT, SCTP_EOF.
	Flags uint16

	// Ppid is an opaque payload protocol identifier, passed to the
	// peer unchanged and in network byte order.
	Ppid uint32

	// Context is an opaque value returned in send failure
	// notifications for this message.
	Context uint32

	// AssocID selects the destination association on a one-to-many
	// socket. Ignored on one-to-one sockets.
	AssocID AssocID
}

// RcvInfo describes a received message, read from the kernel as
// SCTP_RCVINFO ancillary data. Delivery of RcvInfo is enabled with
// the SCTP_RECVRCVINFO option, which is on for all sockets created by
// this package.
type RcvInfo struct {
	// Sid is the SCTP stream number the message arrived on.
	Sid uint16

	// Ssn is the stream sequence number the peer assigned to the
	// message.
	Ssn uint16

	// Flags may contain SCTP_UNORDERED if the message was delivered
	// un-ordered.
	Flags uint16

	_ uint16 // explicit padding

	// Ppid is the peer's opaque payload protocol identifier, in
	// network byte order.
	Ppid uint32

	// Tsn is the transmission sequence number assigned to the message.
	Tsn uint32

	// Cumtsn is the current cumulative TSN of the association.
	Cumtsn uint32

	// Context is this side's opaque context value for the association.
	Context uint32

	// AssocID identifies the source association on a one-to-many
	// socket. Ignored on one-to-one sockets.
	AssocID AssocID
}

// InitMsg provides parameters for initializing new SCTP associations
type InitMsg struct {
	// number of streams to which the application wishes to be able to send, 10 by default
	NumOstreams uint16
	// maximum number of inbound streams the application is prepared to support, 10 by default
	MaxInstreams uint16
	// how many attempts the SCTP endpoint should make at resending the INIT
	// if not specified the kernel parameter net.sctp.max_init_retransmits is used as default
	MaxAttempts uint16
	// largest timeout or retransmission timeout (RTO) value (in milliseconds) to use in attempting an INIT
	// if not specified the kernel parameter net.sctp.rto_max is used as default
	MaxInitTimeout uint16
}

type assocValue struct {
	// association id, ignored for one-to-one style sockets
	assocId int32
	// association parameter value (can be SCTP_MAXSEG, SCTP_MAX_BURST, SCTP_CONTEXT)
	assocValue uint32
}

func setInitOpts(fd int, initMsg *InitMsg) error {
	initMsgBuf := unsafe.Slice((*byte)(unsafe.Pointer(initMsg)), unsafe.Sizeof(*initMsg))
	return os.NewSyscallError("setsockopt", unix.SetsockoptString(fd, unix.IPPROTO_SCTP, _SCTP_INITMSG, string(initMsgBuf)))
}

// setRecvRcvInfo toggles delivery of RcvInfo ancillary data with
// received messages. Called on a raw, not yet registered socket.
func setRecvRcvInfo(fd int, on bool) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_SCTP, _SCTP_RECVRCVINFO, boolint(on)))
}

func (fd *sctpFD) getNoDelay() (bool, error) {
	if !fd.initialized() {
		return false, errEINVAL
	}

	var err error
	var optVal int
	doErr := fd.rc.Control(func(fd uintptr) {
		optVal, err = unix.GetsockoptInt(int(fd), unix.IPPROTO_SCTP, _SCTP_NODELAY)
	})
	if doErr != nil {
		return false, doErr
	}
	if err != nil {
		return false, os.NewSyscallError("getsockopt", err)
	}
	return intbool(optVal), nil
}

func (fd *sctpFD) setNoDelay(b bool) error {
	if !fd.initialized() {
		return errEINVAL
	}

	var err error
	doErr := fd.rc.Control(func(fd uintptr) {
		err = unix.SetsockoptInt(int(fd), unix.IPPROTO_SCTP, _SCTP_NODELAY, boolint(b))
	})
	if doErr != nil {
		return doErr
	}
	if err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	return nil
}

func (fd *sctpFD) getDisableFragments() (bool, error) {
	if !fd.initialized() {
		return false, errEINVAL
	}

	var err error
	var optVal int
	doErr := fd.rc.Control(func(fd uintptr) {
		optVal, err = unix.GetsockoptInt(int(fd), unix.IPPROTO_SCTP, _SCTP_DISABLE_FRAGMENTS)
	})
	if doErr != nil {
		return false, doErr
	}
	if err != nil {
		return false, os.NewSyscallError("getsockopt", err)
	}
	return intbool(optVal), nil
}

func (fd *sctpFD) setDisableFragments(b bool) error {
	if !fd.initialized() {
		return errEINVAL
	}

	var err error
	doErr := fd.rc.Control(func(fd uintptr) {
		err = unix.SetsockoptInt(int(fd), unix.IPPROTO_SCTP, _SCTP_DISABLE_FRAGMENTS, boolint(b))
	})
	if doErr != nil {
		return doErr
	}
	if err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	return nil
}

func (fd *sctpFD) getMaxseg() (uint32, error) {
	if !fd.initialized() {
		return 0, errEINVAL
	}

	rawParam := assocValue{} // to be filled by the getsockopt call

	var err error
	rawParamBuf := unsafe.Slice((*byte)(unsafe.Pointer(&rawParam)), unsafe.Sizeof(rawParam))
	doErr := fd.rc.Control(func(fd uintptr) {
		err = getsockoptBytes(int(fd), unix.IPPROTO_SCTP, _SCTP_MAXSEG, rawParamBuf)
	})
	if doErr != nil {
		return 0, doErr
	}
	if err != nil {
		return 0, os.NewSyscallError("getsockopt", err)
	}
	return rawParam.assocValue, nil
}

func (fd *sctpFD) setMaxseg(maxSeg uint32) error {
	if !fd.initialized() {
		return errEINVAL
	}

	rawParam := assocValue{assocId: 0, assocValue: maxSeg}

	var err error
	rawParamBuf := unsafe.Slice((*byte)(unsafe.Pointer(&rawParam)), unsafe.Sizeof(rawParam))
	doErr := fd.rc.Control(func(fd uintptr) {
		err = unix.SetsockoptString(int(fd), unix.IPPROTO_SCTP, _SCTP_MAXSEG, string(rawParamBuf))
	})
	if doErr != nil {
		return doErr
	}
	if err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	return nil
}

// setBuffer sets the kernel socket buffer size for the given
// direction, both buffers for SoBoth.
func (fd *sctpFD) setBuffer(dir SoDirection, bytes int) error {
	if !fd.initialized() {
		return errEINVAL
	}
	var err error
	doErr := fd.rc.Control(func(s uintptr) {
		if dir == SoReceive || dir == SoBoth {
			err = unix.SetsockoptInt(int(s), unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
			if err != nil {
				return
			}
		}
		if dir == SoSend || dir == SoBoth {
			err = unix.SetsockoptInt(int(s), unix.SOL_SOCKET, unix.SO_SNDBUF, bytes)
		}
	})
	if doErr != nil {
		return doErr
	}
	if err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	return nil
}

// getBuffer returns the kernel socket buffer size for the given
// direction. SoBoth is rejected as ambiguous.
func (fd *sctpFD) getBuffer(dir SoDirection) (int, error) {
	if !fd.initialized() || dir == SoBoth {
		return 0, errEINVAL
	}
	opt := unix.SO_RCVBUF
	if dir == SoSend {
		opt = unix.SO_SNDBUF
	}
	var err error
	var bufLen int
	doErr := fd.rc.Control(func(s uintptr) {
		bufLen, err = unix.GetsockoptInt(int(s), unix.SOL_SOCKET, opt)
	})
	if doErr != nil {
		return 0, doErr
	}
	if err != nil {
		return 0, os.NewSyscallError("getsockopt", err)
	}
	return bufLen, nil
}

func (fd *sctpFD) setLinger(sec int) error {
	if !fd.initialized() {
		return errEINVAL
	}
	l := unix.Linger{}
	if sec >= 0 {
		l.Onoff = 1
		l.Linger = int32(sec)
	}
	var err error
	doErr := fd.rc.Control(func(s uintptr) {
		err = unix.SetsockoptLinger(int(s), unix.SOL_SOCKET, unix.SO_LINGER, &l)
	})
	if doErr != nil {
		return doErr
	}
	if err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	return nil
}

// shutdown disables further operations in the given direction.
// For SCTP, shutting down the send direction of a one-to-one socket
// initiates the full association shutdown sequence.
func (fd *sctpFD) shutdown(dir SoDirection) error {
	if !fd.initialized() {
		return errEINVAL
	}
	var how int
	switch dir {
	case SoReceive:
		how = unix.SHUT_RD
	case SoSend:
		how = unix.SHUT_WR
	case SoBoth:
		how = unix.SHUT_RDWR
	default:
		return errEINVAL
	}
	var err error
	doErr := fd.rc.Control(func(s uintptr) {
		err = unix.Shutdown(int(s), how)
	})
	if doErr != nil {
		return doErr
	}
	if err != nil {
		return os.NewSyscallError("shutdown", err)
	}
	return nil
}

func (fd *sctpFD) closeRead() error  { return fd.shutdown(SoReceive) }
func (fd *sctpFD) closeWrite() error { return fd.shutdown(SoSend) }

// subscribe toggles delivery of one event type (SCTP_EVENT option,
// available since linux 4.17).
func (fd *sctpFD) subscribe(et EventType, on bool) error {
	if !fd.initialized() {
		return errEINVAL
	}

	type sctpEvent struct {
		assocId int32
		seType  uint16
		seOn    uint8
		_       uint8 // explicit padding
	}
	ev := sctpEvent{seType: uint16(et), seOn: uint8(boolint(on))}

	var err error
	evBuf := unsafe.Slice((*byte)(unsafe.Pointer(&ev)), unsafe.Sizeof(ev))
	doErr := fd.rc.Control(func(s uintptr) {
		err = unix.SetsockoptString(int(s), unix.IPPROTO_SCTP, _SCTP_EVENT, string(evBuf))
	})
	if doErr != nil {
		return doErr
	}
	if err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	return nil
}

func getsockoptBytes(fd, level, opt int, b []byte) error {
	p := unsafe.Pointer(&b[0])
	vallen := uint32(len(b))

	if runtime.GOARCH == "s390x" || runtime.GOARCH == "386" {
		const (
			SYS_SOCKETCALL = 102
			_GETSOCKOPT    = 15
		)
		args := [5]uintptr{uintptr(fd), uintptr(level), uintptr(opt), uintptr(p), uintptr(unsafe.Pointer(&vallen))}
		_, _, err := unix.Syscall(SYS_SOCKETCALL, _GETSOCKOPT, uintptr(unsafe.Pointer(&args)), 0)
		if err != 0 {
			return errnoErr(err)
		}
		return nil
	}

	_, _, e1 := unix.Syscall6(unix.SYS_GETSOCKOPT, uintptr(fd), uintptr(level), uintptr(opt), uintptr(p), uintptr(unsafe.Pointer(&vallen)), 0)
	if e1 != 0 {
		return errnoErr(e1)
	}
	return nil
}
