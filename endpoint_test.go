// Copyright (c) 2025 The seqpacket Authors
// Use of this source code is governed by a MIT
// license that can be found in the LICENSE file.

//go:build linux

package sctp

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointSendToReceive(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	server := newLocalEndpoint(t, "sctp4")
	defer server.Close()
	client := newLocalEndpoint(t, "sctp4")
	defer client.Close()

	id, err := client.Connect(server.LocalAddr().String())
	require.NoError(t, err)

	_, err = client.SendTo([]byte("ping"), id)
	require.NoError(t, err)

	b := make([]byte, 64)
	n, serverSideID, err := server.Receive(b)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(b[:n]))

	// reply over the association the message arrived on
	_, err = server.SendTo([]byte("pong"), serverSideID)
	require.NoError(t, err)

	n, gotID, err := client.Receive(b)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(b[:n]))
	assert.Equal(t, id, gotID)
}

func TestEndpointDistinctAssociations(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	server := newLocalEndpoint(t, "sctp4")
	defer server.Close()

	c1 := newLocalEndpoint(t, "sctp4")
	defer c1.Close()
	c2 := newLocalEndpoint(t, "sctp4")
	defer c2.Close()

	id1, err := c1.Connect(server.LocalAddr().String())
	require.NoError(t, err)
	id2, err := c2.Connect(server.LocalAddr().String())
	require.NoError(t, err)

	_, err = c1.SendTo([]byte("one"), id1)
	require.NoError(t, err)
	_, err = c2.SendTo([]byte("two"), id2)
	require.NoError(t, err)

	b := make([]byte, 64)
	ids := make(map[AssocID]string)
	for i := 0; i < 2; i++ {
		n, id, err := server.Receive(b)
		require.NoError(t, err)
		ids[id] = string(b[:n])
	}
	assert.Len(t, ids, 2, "each peer should get its own association id")
}

func TestEndpointConnectInvalidAddress(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ep := newLocalEndpoint(t, "sctp4")
	defer ep.Close()

	_, err := ep.Connect("")
	require.Error(t, err)

	_, err = ep.ConnectSCTP(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = ep.ConnectSCTP(&SCTPAddr{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestEndpointSendToUnknownAssociation(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ep := newLocalEndpoint(t, "sctp4")
	defer ep.Close()

	_, err := ep.SendTo([]byte("lost"), 12345)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownAssociation)
}

func TestEndpointDisconnect(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	server := newLocalEndpoint(t, "sctp4")
	defer server.Close()
	client := newLocalEndpoint(t, "sctp4")
	defer client.Close()

	id, err := client.Connect(server.LocalAddr().String())
	require.NoError(t, err)
	_, err = client.SendTo([]byte("hello"), id)
	require.NoError(t, err)

	b := make([]byte, 64)
	_, serverSideID, err := server.Receive(b)
	require.NoError(t, err)

	require.NoError(t, client.Disconnect(id))

	// both sides observe the association going away
	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, gotID, err := server.Receive(b)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, serverSideID, gotID)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, gotID, err = client.Receive(b)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, id, gotID)
}

func TestEndpointPeerAddrs(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	server := newLocalEndpoint(t, "sctp4")
	defer server.Close()
	client := newLocalEndpoint(t, "sctp4")
	defer client.Close()

	id, err := client.Connect(server.LocalAddr().String())
	require.NoError(t, err)
	// make sure the association is fully set up before querying it
	_, err = client.SendTo([]byte("x"), id)
	require.NoError(t, err)
	b := make([]byte, 16)
	_, _, err = server.Receive(b)
	require.NoError(t, err)

	pa, err := client.PeerAddrs(id)
	require.NoError(t, err)
	assert.Equal(t, server.LocalAddr().(*SCTPAddr).Port, pa.Port)

	_, err = client.PeerAddrs(54321)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownAssociation)
}

func TestEndpointLocalAddrs(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ep := newLocalEndpoint(t, "sctp4")
	defer ep.Close()

	la, err := ep.LocalAddrs()
	require.NoError(t, err)
	assert.NotEmpty(t, la.IPAddrs)
	assert.NotZero(t, la.Port)
}

func TestEndpointUnsubscribeAssocChange(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ep := newLocalEndpoint(t, "sctp4")
	defer ep.Close()

	// association tracking depends on this event, so it stays on
	err := ep.Unsubscribe(SCTP_ASSOC_CHANGE)
	require.Error(t, err)

	require.NoError(t, ep.Subscribe(SCTP_PEER_ADDR_CHANGE, SCTP_SEND_FAILED_EVENT))
	require.NoError(t, ep.Unsubscribe(SCTP_PEER_ADDR_CHANGE))
}

func TestEndpointBuffers(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ep := newLocalEndpoint(t, "sctp4")
	defer ep.Close()

	require.NoError(t, ep.SetBuffer(SoBoth, 64*1024))
	rcv, err := ep.GetBuffer(SoReceive)
	require.NoError(t, err)
	assert.NotZero(t, rcv)
	snd, err := ep.GetBuffer(SoSend)
	require.NoError(t, err)
	assert.NotZero(t, snd)
}

func TestEndpointDoubleClose(t *testing.T) {
	skipIfNotTestable(t, "sctp4")

	ep := newLocalEndpoint(t, "sctp4")
	require.NoError(t, ep.Close())
	err := ep.Close()
	require.Error(t, err)
	assert.True(t, errClosed(err), "want closed error, got %v", err)
}
