// Copyright (c) 2025 The seqpacket Authors
// Use of this source code is governed by a MIT
// license that can be found in the LICENSE file.

//go:build linux

package sctp

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// structToBuf copies the raw memory of v into a fresh byte slice,
// the same shape the kernel hands notifications to us in.
func structToBuf(v unsafe.Pointer, size uintptr) []byte {
	b := make([]byte, size)
	copy(b, unsafe.Slice((*byte)(v), size))
	return b
}

func TestParseAssocChangeEvent(t *testing.T) {
	type assocChangeEvent struct {
		eventHeader
		state           uint16
		error           uint16
		outboundStreams uint16
		inboundStreams  uint16
		assocId         int32
	}
	ev := assocChangeEvent{
		eventHeader:     eventHeader{snType: uint16(SCTP_ASSOC_CHANGE)},
		state:           SCTP_COMM_UP,
		outboundStreams: 10,
		inboundStreams:  5,
		assocId:         42,
	}
	b := structToBuf(unsafe.Pointer(&ev), unsafe.Sizeof(ev))

	parsed, err := ParseEvent(b)
	require.NoError(t, err)
	ace, ok := parsed.(*AssocChangeEvent)
	require.True(t, ok)
	assert.Equal(t, SCTP_ASSOC_CHANGE, ace.Type())
	assert.Equal(t, uint16(SCTP_COMM_UP), ace.State)
	assert.Equal(t, uint16(10), ace.OutboundStreams)
	assert.Equal(t, uint16(5), ace.InboundStreams)
	assert.Equal(t, AssocID(42), ace.AssocID)
	assert.False(t, ace.terminated())

	for _, state := range []uint16{SCTP_COMM_LOST, SCTP_SHUTDOWN_COMP, SCTP_CANT_STR_ASSOC} {
		ev.state = state
		b = structToBuf(unsafe.Pointer(&ev), unsafe.Sizeof(ev))
		parsed, err = ParseEvent(b)
		require.NoError(t, err)
		assert.True(t, parsed.(*AssocChangeEvent).terminated(), "state %d should terminate", state)
	}

	ev.state = SCTP_RESTART
	b = structToBuf(unsafe.Pointer(&ev), unsafe.Sizeof(ev))
	parsed, err = ParseEvent(b)
	require.NoError(t, err)
	assert.False(t, parsed.(*AssocChangeEvent).terminated())
}

func TestParsePeerAddrChangeEvent(t *testing.T) {
	type peerAddrChangeEvent struct {
		eventHeader
		addr    [128]byte
		state   uint32
		error   uint32
		assocId int32
	}
	ev := peerAddrChangeEvent{
		eventHeader: eventHeader{snType: uint16(SCTP_PEER_ADDR_CHANGE)},
		state:       SCTP_ADDR_UNREACHABLE,
		assocId:     7,
	}
	sa := unix.RawSockaddrInet4{
		Family: unix.AF_INET,
		Port:   htonui16(3456),
		Addr:   [4]byte{192, 168, 1, 1},
	}
	copy(ev.addr[:], unsafe.Slice((*byte)(unsafe.Pointer(&sa)), unsafe.Sizeof(sa)))
	b := structToBuf(unsafe.Pointer(&ev), unsafe.Sizeof(ev))

	parsed, err := ParseEvent(b)
	require.NoError(t, err)
	pace, ok := parsed.(*PeerAddrChangeEvent)
	require.True(t, ok)
	assert.Equal(t, "192.168.1.1", pace.Addr.IP.String())
	assert.Equal(t, uint32(SCTP_ADDR_UNREACHABLE), pace.State)
	assert.Equal(t, AssocID(7), pace.AssocID)
}

func TestParseShutdownEvent(t *testing.T) {
	type shutdownEvent struct {
		eventHeader
		assocId int32
	}
	ev := shutdownEvent{
		eventHeader: eventHeader{snType: uint16(SCTP_SHUTDOWN_EVENT)},
		assocId:     3,
	}
	b := structToBuf(unsafe.Pointer(&ev), unsafe.Sizeof(ev))

	parsed, err := ParseEvent(b)
	require.NoError(t, err)
	se, ok := parsed.(*ShutdownEvent)
	require.True(t, ok)
	assert.Equal(t, AssocID(3), se.AssocID)
	assert.Equal(t, SCTP_SHUTDOWN_EVENT, se.Type())
}

func TestParseRemoteErrorEvent(t *testing.T) {
	type remoteErrorEvent struct {
		eventHeader
		error   uint16
		_       uint16
		assocId int32
	}
	ev := remoteErrorEvent{
		eventHeader: eventHeader{snType: uint16(SCTP_REMOTE_ERROR)},
		error:       htonui16(9),
		assocId:     11,
	}
	b := structToBuf(unsafe.Pointer(&ev), unsafe.Sizeof(ev))
	b = append(b, 0xde, 0xad)

	parsed, err := ParseEvent(b)
	require.NoError(t, err)
	ree, ok := parsed.(*RemoteErrorEvent)
	require.True(t, ok)
	assert.Equal(t, uint16(9), ree.Error)
	assert.Equal(t, AssocID(11), ree.AssocID)
	assert.Equal(t, []byte{0xde, 0xad}, ree.Data)
}

func TestParseAdaptationEvent(t *testing.T) {
	type adaptationEvent struct {
		eventHeader
		adaptationInd uint32
		assocId       int32
	}
	ev := adaptationEvent{
		eventHeader:   eventHeader{snType: uint16(SCTP_ADAPTATION_INDICATION)},
		adaptationInd: 0xAABBCCDD,
		assocId:       5,
	}
	b := structToBuf(unsafe.Pointer(&ev), unsafe.Sizeof(ev))

	parsed, err := ParseEvent(b)
	require.NoError(t, err)
	ae, ok := parsed.(*AdaptationEvent)
	require.True(t, ok)
	assert.Equal(t, uint32(0xAABBCCDD), ae.AdaptationInd)
	assert.Equal(t, AssocID(5), ae.AssocID)
}

func TestParseSenderDryEvent(t *testing.T) {
	type senderDryEvent struct {
		eventHeader
		assocId int32
	}
	ev := senderDryEvent{
		eventHeader: eventHeader{snType: uint16(SCTP_SENDER_DRY_EVENT)},
		assocId:     8,
	}
	b := structToBuf(unsafe.Pointer(&ev), unsafe.Sizeof(ev))

	parsed, err := ParseEvent(b)
	require.NoError(t, err)
	sde, ok := parsed.(*SenderDryEvent)
	require.True(t, ok)
	assert.Equal(t, AssocID(8), sde.AssocID)
}

func TestParseSendFailedEvent(t *testing.T) {
	type sendFailedEvent struct {
		eventHeader
		error      uint32
		sfeSndInfo SndInfo
		assocId    int32
	}
	ev := sendFailedEvent{
		eventHeader: eventHeader{
			snType:  uint16(SCTP_SEND_FAILED_EVENT),
			snFlags: SCTP_DATA_UNSENT,
		},
		error:   13,
		assocId: 21,
	}
	ev.sfeSndInfo.Sid = 2
	ev.sfeSndInfo.Flags = SCTP_DATA_NOT_FRAG
	b := structToBuf(unsafe.Pointer(&ev), unsafe.Sizeof(ev))
	b = append(b, 'x')

	parsed, err := ParseEvent(b)
	require.NoError(t, err)
	sfe, ok := parsed.(*SendFailedEvent)
	require.True(t, ok)
	assert.Equal(t, SCTP_DATA_UNSENT, sfe.Flags())
	assert.Equal(t, uint32(13), sfe.Error)
	assert.Equal(t, uint16(2), sfe.SfeSndInfo.Sid)
	assert.Equal(t, AssocID(21), sfe.AssocID)
	assert.Equal(t, []byte{'x'}, sfe.Data)
}

func TestParseEventErrors(t *testing.T) {
	_, err := ParseEvent(nil)
	require.Error(t, err)

	_, err = ParseEvent([]byte{1, 2, 3})
	require.Error(t, err)

	hdr := eventHeader{snType: 0x7777}
	b := structToBuf(unsafe.Pointer(&hdr), unsafe.Sizeof(hdr))
	_, err = ParseEvent(b)
	require.Error(t, err)

	// a valid type with a truncated body
	hdr = eventHeader{snType: uint16(SCTP_ASSOC_CHANGE)}
	b = structToBuf(unsafe.Pointer(&hdr), unsafe.Sizeof(hdr))
	_, err = ParseEvent(b)
	require.Error(t, err)
}
