// Copyright (c) 2025 The seqpacket Authors
// Use of this source code is governed by a MIT
// license that can be found in the LICENSE file.

//go:build linux

package sctp

import (
	"sync"
	"testing"

	"golang.org/x/sys/unix"
)

var sctpSupportCache struct {
	sync.Once
	supported bool
}

// sctpSupported reports whether the running kernel has the SCTP
// protocol available.
func sctpSupported() bool {
	sctpSupportCache.Do(func() {
		s, err := sysSocket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_SCTP)
		if err != nil {
			return
		}
		_ = unix.Close(s)
		sctpSupportCache.supported = true
	})
	return sctpSupportCache.supported
}

func testableNetwork(network string) bool {
	if !sctpSupported() {
		return false
	}
	switch network {
	case "sctp4":
		return supportsIPv4()
	case "sctp6":
		return supportsIPv6()
	}
	return true
}

func skipIfNotTestable(t *testing.T, network string) {
	t.Helper()
	if !testableNetwork(network) {
		t.Skipf("network %s is not testable on the current platform", network)
	}
}

func newLocalListener(t *testing.T, network string, lcOpt ...*ListenConfig) *SCTPListener {
	t.Helper()
	var lc *ListenConfig
	switch len(lcOpt) {
	case 0:
		lc = new(ListenConfig)
	case 1:
		lc = lcOpt[0]
	default:
		t.Fatal("too many ListenConfigs passed to newLocalListener: want 0 or 1")
	}

	var address string
	switch network {
	case "sctp", "sctp4":
		address = "127.0.0.1:0"
	case "sctp6":
		address = "[::1]:0"
	default:
		t.Fatalf("unexpected network %q", network)
	}
	ln, err := lc.Listen(network, address)
	if err != nil {
		t.Fatal(err)
	}
	return ln
}

func newLocalEndpoint(t *testing.T, network string, cfgOpt ...*EndpointConfig) *SCTPEndpoint {
	t.Helper()
	var cfg *EndpointConfig
	switch len(cfgOpt) {
	case 0:
		cfg = new(EndpointConfig)
	case 1:
		cfg = cfgOpt[0]
	default:
		t.Fatal("too many EndpointConfigs passed to newLocalEndpoint: want 0 or 1")
	}

	var address string
	switch network {
	case "sctp", "sctp4":
		address = "127.0.0.1:0"
	case "sctp6":
		address = "[::1]:0"
	default:
		t.Fatalf("unexpected network %q", network)
	}
	ep, err := cfg.ListenEndpoint(network, address)
	if err != nil {
		t.Fatal(err)
	}
	return ep
}
