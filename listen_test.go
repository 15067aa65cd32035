// Copyright (c) 2025 The seqpacket Authors
// Use of this source code is governed by a MIT
// license that can be found in the LICENSE file.

//go:build linux

package sctp

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenAndAccept(t *testing.T) {
	for _, network := range []string{"sctp4", "sctp6", "sctp"} {
		t.Run(network, func(t *testing.T) {
			skipIfNotTestable(t, network)

			ln := newLocalListener(t, network)
			defer ln.Close()

			done := make(chan error, 1)
			go func() {
				c, err := ln.Accept()
				if err != nil {
					done <- err
					return
				}
				defer c.Close()
				b := make([]byte, 16)
				n, err := c.Read(b)
				if err != nil {
					done <- err
					return
				}
				_, err = c.Write(b[:n])
				done <- err
			}()

			c, err := Dial(network, ln.Addr().String())
			require.NoError(t, err)
			defer c.Close()

			_, err = c.Write([]byte("ping"))
			require.NoError(t, err)

			b := make([]byte, 16)
			n, err := c.Read(b)
			require.NoError(t, err)
			assert.Equal(t, "ping", string(b[:n]))

			require.NoError(t, <-done)
		})
	}
}

func TestListenerAddrHasPort(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ln := newLocalListener(t, "sctp4")
	defer ln.Close()

	addr, ok := ln.Addr().(*SCTPAddr)
	require.True(t, ok)
	assert.NotZero(t, addr.Port)
	assert.NotEmpty(t, addr.IPAddrs)
}

func TestIncomingNext(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ln := newLocalListener(t, "sctp4")
	defer ln.Close()

	const conns = 3
	dialed := make(chan error, conns)
	for i := 0; i < conns; i++ {
		go func() {
			c, err := Dial("sctp4", ln.Addr().String())
			if err == nil {
				defer c.Close()
				_, err = c.Write([]byte{1})
			}
			dialed <- err
		}()
	}

	in := ln.Incoming()
	for i := 0; i < conns; i++ {
		c, err := in.Next()
		require.NoError(t, err)
		b := make([]byte, 1)
		_, err = c.Read(b)
		require.NoError(t, err)
		_ = c.Close()
	}
	for i := 0; i < conns; i++ {
		require.NoError(t, <-dialed)
	}

	// closing the listener terminates the iteration
	require.NoError(t, ln.Close())
	_, err := in.Next()
	require.Error(t, err)
	assert.True(t, errClosed(err), "want closed error, got %v", err)
}

func TestListenerCloseUnblocksAccept(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ln := newLocalListener(t, "sctp4")

	accepted := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		accepted <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, ln.Close())

	select {
	case err := <-accepted:
		require.Error(t, err)
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Accept did not return after Close")
	}
}

func TestListenInvalidArguments(t *testing.T) {
	skipIfNotTestable(t, "sctp")

	_, err := Listen("tcp", "127.0.0.1:0")
	require.Error(t, err)
	var opErr *net.OpError
	require.True(t, errors.As(err, &opErr))

	// IPv6 address set on an IPv4-only network
	_, err = Listen("sctp4", "[::1]:0")
	require.Error(t, err)
}

func TestListenerSetDeadline(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ln := newLocalListener(t, "sctp4")
	defer ln.Close()

	require.NoError(t, ln.SetDeadline(time.Now().Add(20*time.Millisecond)))
	_, err := ln.Accept()
	require.Error(t, err)
	var nerr net.Error
	require.True(t, errors.As(err, &nerr))
	assert.True(t, nerr.Timeout())

	// clearing the deadline makes the listener usable again
	require.NoError(t, ln.SetDeadline(time.Time{}))
}

func TestListenerBindAddRemove(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ln := newLocalListener(t, "sctp4")
	defer ln.Close()

	require.NoError(t, ln.BindAdd("127.0.0.2"))
	addrs, err := ln.fd.retrieveLocalAddr(0)
	require.NoError(t, err)
	assert.Len(t, addrs.IPAddrs, 2)

	require.NoError(t, ln.BindRemove("127.0.0.2"))
	addrs, err = ln.fd.retrieveLocalAddr(0)
	require.NoError(t, err)
	assert.Len(t, addrs.IPAddrs, 1)
}

func TestListenMultiHomed(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ln, err := Listen("sctp4", "127.0.0.1/127.0.0.2:0")
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.Addr().(*SCTPAddr)
	assert.Len(t, addr.IPAddrs, 2)

	c, err := Dial("sctp4", addr.String())
	require.NoError(t, err)
	defer c.Close()

	peers, err := c.PeerAddrs()
	require.NoError(t, err)
	assert.Len(t, peers.IPAddrs, 2)
}
