// Copyright (c) 2025 The seqpacket Authors
// Use of this source code is governed by a MIT
// license that can be found in the LICENSE file.

//go:build linux

package sctp

import (
	"context"
	"net"
	"os"
	"runtime"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// serverSocket returns a listening one-to-one style sctpFD that is
// ready for asynchronous I/O using the network poller
func serverSocket(network string, laddr *SCTPAddr, lc *ListenConfig) (fd *sctpFD, err error) {
	family, ipv6only := favoriteAddrFamily(network, laddr, nil, "listen")
	s, err := sysSocket(family, unix.SOCK_STREAM, unix.IPPROTO_SCTP)
	if err != nil {
		return nil, err
	}

	if err = setDefaultSockopts(s, family, ipv6only); err != nil {
		_ = unix.Close(s)
		return nil, err
	}

	if err = setRecvRcvInfo(s, true); err != nil {
		_ = unix.Close(s)
		return nil, err
	}

	fd = newFD(family, network, newLogger(lc.LoggerFactory))
	if err = fd.listen(s, laddr, lc.backlog(), &lc.InitMsg, lc.Control); err != nil {
		_ = unix.Close(s)
		return nil, err
	}
	return
}

// clientSocket returns a connected one-to-one style sctpFD that is
// ready for asynchronous I/O using the network poller
func clientSocket(ctx context.Context, network string, raddr *SCTPAddr, d *Dialer) (fd *sctpFD, err error) {
	family, ipv6only := favoriteAddrFamily(network, d.LocalAddr, raddr, "dial")
	s, err := sysSocket(family, unix.SOCK_STREAM, unix.IPPROTO_SCTP)
	if err != nil {
		return nil, err
	}

	if err = setDefaultSockopts(s, family, ipv6only); err != nil {
		_ = unix.Close(s)
		return nil, err
	}

	if err = setRecvRcvInfo(s, true); err != nil {
		_ = unix.Close(s)
		return nil, err
	}

	ctrlCtxFn := d.ControlContext
	if ctrlCtxFn == nil && d.Control != nil {
		ctrlCtxFn = func(_ context.Context, network, address string, c syscall.RawConn) error {
			return d.Control(network, address, c)
		}
	}

	fd = newFD(family, network, newLogger(d.LoggerFactory))
	if err = fd.dial(ctx, s, d.LocalAddr, raddr, &d.InitMsg, ctrlCtxFn); err != nil {
		// fd.dial registers the socket with the poller as a side
		// effect, so close through fd when it got that far
		if fd.initialized() {
			_ = fd.close()
		} else {
			_ = unix.Close(s)
		}
		return nil, err
	}
	return
}

// endpointSocket returns a bound and listening one-to-many style
// sctpFD that is ready for asynchronous I/O using the network poller.
// On a SOCK_SEQPACKET socket, listen enables implicit association
// setup on both inbound and outbound traffic.
func endpointSocket(network string, laddr *SCTPAddr, cfg *EndpointConfig) (fd *sctpFD, err error) {
	family, ipv6only := favoriteAddrFamily(network, laddr, nil, "listen")
	s, err := sysSocket(family, unix.SOCK_SEQPACKET, unix.IPPROTO_SCTP)
	if err != nil {
		return nil, err
	}

	if err = setDefaultSockopts(s, family, ipv6only); err != nil {
		_ = unix.Close(s)
		return nil, err
	}

	if err = setRecvRcvInfo(s, true); err != nil {
		_ = unix.Close(s)
		return nil, err
	}

	fd = newFD(family, network, newLogger(cfg.LoggerFactory))
	if err = fd.listen(s, laddr, cfg.backlog(), &cfg.InitMsg, cfg.Control); err != nil {
		_ = unix.Close(s)
		return nil, err
	}

	// association termination is reported through Receive, which
	// needs SCTP_ASSOC_CHANGE notifications to observe it
	if err = fd.subscribe(SCTP_ASSOC_CHANGE, true); err != nil {
		_ = fd.close()
		return nil, err
	}
	return
}

func sysBindx(fd, family, bindMode int, laddr *SCTPAddr) error {
	buf, err := laddr.toSockaddrBuff(family)
	if err != nil {
		return &net.AddrError{Err: err.Error(), Addr: laddr.String()}
	}
	return os.NewSyscallError("bindx", unix.SetsockoptString(fd, unix.IPPROTO_SCTP, bindMode, string(buf)))
}

func sysListen(sysfd, backlog int) error {
	return os.NewSyscallError("listen", unix.Listen(sysfd, backlog))
}

// accommodate wildcard remote addresses to point to the local system
func connectAddr(family int, raddr *SCTPAddr) *SCTPAddr {
	if raddr.isWildcard() && family == syscall.AF_INET {
		return &SCTPAddr{
			Port:    raddr.Port,
			IPAddrs: []net.IPAddr{{IP: net.IPv4(127, 0, 0, 1)}},
		}
	}
	if raddr.isWildcard() && family == syscall.AF_INET6 {
		return &SCTPAddr{
			Port:    raddr.Port,
			IPAddrs: []net.IPAddr{{IP: net.IPv6loopback}},
		}
	}
	return raddr
}

// sysConnectx starts establishing an association to the (possibly
// multi-homed) raddr. Used on one-to-one style sockets where the
// association id is of no interest.
func sysConnectx(fd, family int, raddr *SCTPAddr) error {
	const SCTP_SOCKOPT_CONNECTX = 110

	finalRaddr := connectAddr(family, raddr)
	buf, err := finalRaddr.toSockaddrBuff(family)
	if err != nil {
		return &net.AddrError{Err: err.Error(), Addr: finalRaddr.String()}
	}
	// the caller switches over the returned errno values, so no wrapping here
	return unix.SetsockoptString(fd, unix.IPPROTO_SCTP, SCTP_SOCKOPT_CONNECTX, string(buf))
}

// sysConnectx3 starts establishing an association to raddr and
// returns the association id the kernel assigned to it. Used on
// one-to-many style sockets. On a non-blocking socket the expected
// return is EINPROGRESS with a valid association id.
func sysConnectx3(fd, family int, raddr *SCTPAddr) (AssocID, error) {
	const SCTP_SOCKOPT_CONNECTX3 = 111

	finalRaddr := connectAddr(family, raddr)
	buf, err := finalRaddr.toSockaddrBuff(family)
	if err != nil {
		return 0, &net.AddrError{Err: err.Error(), Addr: finalRaddr.String()}
	}

	// mirrors struct sctp_getaddrs_old from the kernel uapi
	type connectxParam struct {
		assocId   int32
		addrsSize int32
		addrs     unsafe.Pointer
	}
	param := connectxParam{
		addrsSize: int32(len(buf)),
		addrs:     unsafe.Pointer(&buf[0]),
	}
	paramBuf := unsafe.Slice((*byte)(unsafe.Pointer(&param)), unsafe.Sizeof(param))

	// the caller switches over the returned errno values, so no wrapping here
	err = getsockoptBytes(fd, unix.IPPROTO_SCTP, SCTP_SOCKOPT_CONNECTX3, paramBuf)
	runtime.KeepAlive(buf)
	return AssocID(param.assocId), err
}

// used in calling ControlFn functions with Listen and Dial
type rawConnDummy struct {
	fd int
}

func (r rawConnDummy) Control(f func(uintptr)) error {
	f(uintptr(r.fd))
	return nil
}

func (r rawConnDummy) Read(_ func(uintptr) bool) error {
	panic("not implemented")
}

func (r rawConnDummy) Write(_ func(uintptr) bool) error {
	panic("not implemented")
}
