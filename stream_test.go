// Copyright (c) 2025 The seqpacket Authors
// Use of this source code is governed by a MIT
// license that can be found in the LICENSE file.

//go:build linux

package sctp

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// accepts one connection and echoes everything until EOF
func echoServer(t *testing.T, ln *SCTPListener, done chan<- error) {
	t.Helper()
	c, err := ln.Accept()
	if err != nil {
		done <- err
		return
	}
	defer c.Close()
	_, err = io.Copy(c, c)
	done <- err
}

func TestStreamRoundTrip(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ln := newLocalListener(t, "sctp4")
	defer ln.Close()

	done := make(chan error, 1)
	go echoServer(t, ln, done)

	c, err := Dial("sctp4", ln.Addr().String())
	require.NoError(t, err)

	msg := bytes.Repeat([]byte("0123456789"), 100)
	_, err = c.Write(msg)
	require.NoError(t, err)

	got := make([]byte, 0, len(msg))
	b := make([]byte, 256)
	for len(got) < len(msg) {
		n, err := c.Read(b)
		require.NoError(t, err)
		got = append(got, b[:n]...)
	}
	assert.Equal(t, msg, got)

	require.NoError(t, c.Close())
	require.NoError(t, <-done)
}

func TestStreamPartialRead(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ln := newLocalListener(t, "sctp4")
	defer ln.Close()

	done := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		defer c.Close()
		_, err = c.Write([]byte("12345678"))
		done <- err
	}()

	c, err := Dial("sctp4", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, <-done)

	// a message larger than the buffer is delivered in pieces
	b := make([]byte, 4)
	n, err := c.Read(b)
	require.NoError(t, err)
	assert.Equal(t, "1234", string(b[:n]))

	n, err = c.Read(b)
	require.NoError(t, err)
	assert.Equal(t, "5678", string(b[:n]))
}

func TestStreamReadMsgBoundaries(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ln := newLocalListener(t, "sctp4")
	defer ln.Close()

	done := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		defer c.Close()
		_, err = c.Write([]byte("12345678"))
		done <- err
	}()

	c, err := Dial("sctp4", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, <-done)

	b := make([]byte, 4)
	n, _, recvFlags, err := c.ReadMsg(b)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Zero(t, recvFlags&SCTP_EOR, "partial message should not carry SCTP_EOR")

	n, _, recvFlags, err = c.ReadMsg(b)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NotZero(t, recvFlags&SCTP_EOR, "final part should carry SCTP_EOR")
}

func TestStreamWriteMsgStream(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	initMsg := InitMsg{NumOstreams: 5, MaxInstreams: 5}
	ln := newLocalListener(t, "sctp4", &ListenConfig{InitMsg: initMsg})
	defer ln.Close()

	type result struct {
		sid uint16
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			done <- result{err: err}
			return
		}
		defer c.Close()
		b := make([]byte, 64)
		_, rcvInfo, _, err := c.ReadMsg(b)
		if err != nil {
			done <- result{err: err}
			return
		}
		if rcvInfo == nil {
			done <- result{err: errors.New("no receive info delivered")}
			return
		}
		done <- result{sid: rcvInfo.Sid}
	}()

	d := Dialer{InitMsg: initMsg}
	c, err := d.Dial("sctp4", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.WriteMsg([]byte("on stream three"), &SndInfo{Sid: 3})
	require.NoError(t, err)

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, uint16(3), r.sid)
}

func TestStreamShutdownSend(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ln := newLocalListener(t, "sctp4")
	defer ln.Close()

	done := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		defer c.Close()
		b := make([]byte, 1)
		_, err = c.Read(b)
		if err != io.EOF {
			done <- errors.New("expected io.EOF after peer shutdown")
			return
		}
		done <- nil
	}()

	c, err := Dial("sctp4", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Shutdown(SoSend))
	require.NoError(t, <-done)

	// the send side is gone
	_, err = c.Write([]byte{1})
	require.Error(t, err)
}

func TestStreamShutdownReceive(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ln := newLocalListener(t, "sctp4")
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		b := make([]byte, 1)
		_, _ = c.Read(b)
	}()

	c, err := Dial("sctp4", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Shutdown(SoReceive))
	b := make([]byte, 1)
	n, err := c.Read(b)
	assert.Equal(t, 0, n)
	assert.Error(t, err)
}

func TestStreamDeadline(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ln := newLocalListener(t, "sctp4")
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		// hold the connection open without writing
		time.Sleep(2 * time.Second)
		_ = c.Close()
	}()

	c, err := Dial("sctp4", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	b := make([]byte, 1)
	_, err = c.Read(b)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	var nerr net.Error
	require.True(t, errors.As(err, &nerr))
	assert.True(t, nerr.Timeout())
}

func TestStreamOptions(t *testing.T) {
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

	c, err := Dial("sctp4", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	// dialed streams have nodelay enabled
	nd, err := c.GetNoDelay()
	require.NoError(t, err)
	assert.True(t, nd)
	require.NoError(t, c.SetNoDelay(false))
	nd, err = c.GetNoDelay()
	require.NoError(t, err)
	assert.False(t, nd)

	require.NoError(t, c.SetBuffer(SoReceive, 128*1024))
	rcv, err := c.GetBuffer(SoReceive)
	require.NoError(t, err)
	assert.NotZero(t, rcv)

	snd, err := c.GetBuffer(SoSend)
	require.NoError(t, err)
	assert.NotZero(t, snd)

	_, err = c.GetBuffer(SoBoth)
	require.Error(t, err)

	require.NoError(t, c.SetLinger(0))
}

func TestStreamLocalAndPeerAddrs(t *testing.T) {
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

	c, err := Dial("sctp4", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	la, err := c.LocalAddrs()
	require.NoError(t, err)
	assert.NotEmpty(t, la.IPAddrs)
	assert.NotZero(t, la.Port)

	pa, err := c.PeerAddrs()
	require.NoError(t, err)
	assert.Equal(t, ln.Addr().(*SCTPAddr).Port, pa.Port)
}

func TestStreamDoubleClose(t *testing.T) {
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

	c, err := Dial("sctp4", ln.Addr().String())
	require.NoError(t, err)

	require.NoError(t, c.Close())
	err = c.Close()
	require.Error(t, err)
	assert.True(t, errClosed(err), "want closed error, got %v", err)
}
