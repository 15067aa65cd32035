// Copyright (c) 2025 The seqpacket Authors
// Use of this source code is governed by a MIT
// license that can be found in the LICENSE file.

//go:build linux

package sctp

import (
	"context"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialInvalidArguments(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	_, err := Dial("tcp", "127.0.0.1:0")
	require.Error(t, err)
	var unErr net.UnknownNetworkError
	assert.ErrorAs(t, err, &unErr)

	var d Dialer
	_, err = d.DialSCTP("sctp4", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	// family mismatch between network and destination
	raddr := &SCTPAddr{IPAddrs: []net.IPAddr{{IP: net.ParseIP("::1")}}, Port: 3456}
	_, err = d.DialSCTP("sctp4", raddr)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAddressFamily)
}

func TestDialContextCanceled(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ln := newLocalListener(t, "sctp4")
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var d Dialer
	_, err := d.DialContext(ctx, "sctp4", ln.Addr().String())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDialTimeout(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	// RFC 5737 TEST-NET-1, nothing is listening there
	d := Dialer{Timeout: 100 * time.Millisecond}
	_, err := d.Dial("sctp4", "192.0.2.1:3456")
	require.Error(t, err)
	var nerr net.Error
	require.ErrorAs(t, err, &nerr)
	if !nerr.Timeout() {
		// some environments answer TEST-NET-1 with an ICMP error instead
		t.Skipf("expected timeout, got %v", err)
	}
}

func TestDialControlInvoked(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ln := newLocalListener(t, "sctp4")
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		_ = c.Close()
	}()

	var controlNetwork, controlAddress string
	d := Dialer{
		Control: func(network, address string, c syscall.RawConn) error {
			controlNetwork = network
			controlAddress = address
			return c.Control(func(fd uintptr) {})
		},
	}
	c, err := d.Dial("sctp4", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "sctp4", controlNetwork)
	assert.NotEmpty(t, controlAddress)
}

func TestDialWithLocalAddr(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ln := newLocalListener(t, "sctp4")
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		b := make([]byte, 1)
		_, _ = c.Read(b)
		_ = c.Close()
	}()

	laddr, err := ResolveSCTPAddr("sctp4", "127.0.0.1:0")
	require.NoError(t, err)
	d := Dialer{LocalAddr: laddr}
	c, err := d.Dial("sctp4", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	la := c.LocalAddr().(*SCTPAddr)
	require.NotNil(t, la)
	assert.True(t, la.IPAddrs[0].IP.Equal(net.IPv4(127, 0, 0, 1)))
	assert.NotZero(t, la.Port)
}
