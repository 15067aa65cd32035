// Copyright (c) 2025 The seqpacket Authors
// Use of this source code is governed by a MIT
// license that can be found in the LICENSE file.

//go:build linux

package sctp

import (
	"encoding/hex"
	"golang.org/x/sys/unix"
	"net"
	"syscall"
	"unsafe"
)

// fromSockaddrBuff unpacks the contiguous raw sockaddr array returned
// by the SCTP_GET_LOCAL_ADDRS and SCTP_GET_PEER_ADDRS socket options.
// On the dual-family "sctp" network the entries may mix sockaddr_in
// and sockaddr_in6, so the buffer is walked entry by entry.
func fromSockaddrBuff(buf []byte, numAddrs int) (*SCTPAddr, error) {
	sctpAddr := SCTPAddr{}
	off := 0
	for i := 0; i < numAddrs; i++ {
		if len(buf)-off < unix.SizeofSockaddrInet4 {
			return nil, &net.AddrError{Err: "address buffer too short", Addr: hex.EncodeToString(buf)}
		}
		up := unsafe.Pointer(&buf[off])
		switch (*syscall.RawSockaddrAny)(up).Addr.Family {
		case syscall.AF_INET:
			pp := (*syscall.RawSockaddrInet4)(up)
			if i == 0 {
				sctpAddr.Port = int(ntohui16(pp.Port))
			}
			sctpAddr.IPAddrs = append(sctpAddr.IPAddrs, net.IPAddr{IP: append(net.IP(nil), pp.Addr[:]...)})
			off += unix.SizeofSockaddrInet4

		case syscall.AF_INET6:
			if len(buf)-off < unix.SizeofSockaddrInet6 {
				return nil, &net.AddrError{Err: "address buffer too short", Addr: hex.EncodeToString(buf)}
			}
			pp := (*syscall.RawSockaddrInet6)(up)
			if i == 0 {
				sctpAddr.Port = int(ntohui16(pp.Port))
			}
			sctpAddr.IPAddrs = append(sctpAddr.IPAddrs,
				net.IPAddr{IP: append(net.IP(nil), pp.Addr[:]...), Zone: zoneCache.name(int(pp.Scope_id))})
			off += unix.SizeofSockaddrInet6

		default:
			return nil, &net.AddrError{Err: "invalid address family", Addr: hex.EncodeToString(buf)}
		}
	}

	return &sctpAddr, nil
}

// ntohui16 converts an uint16 from network to host byte order.
// It works regardless of the host system's endianness.
func ntohui16(i uint16) uint16 {
	p := (*[2]byte)(unsafe.Pointer(&i))
	return uint16(p[0])<<8 + uint16(p[1])
}

// htonui16 converts an uint16 from host to network byte order.
func htonui16(i uint16) uint16 {
	var res uint16
	p := (*[2]byte)(unsafe.Pointer(&res))
	p[0] = byte(i >> 8)
	p[1] = byte(i)
	return res
}
