package gtest

import (
	"context"
	"net"
	"testing"
)

// ListenTCP returns a TCP listener on an ephemeral loopback port.
// The listener is closed when the test completes.
func ListenTCP(t testing.TB) net.Listener {
	t.Helper()

	ln, err := new(net.ListenConfig).Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

// ListenUDP returns a UDP packet connection on an ephemeral loopback port.
// The connection is closed when the test completes.
func ListenUDP(t testing.TB) net.PacketConn {
	t.Helper()

	pc, err := new(net.ListenConfig).ListenPacket(context.Background(), "udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

// FreePort returns a loopback TCP port that was free at the time of the call.
// Another process may claim it before the caller binds it,
// so prefer passing a listener from [ListenTCP] where the API allows.
func FreePort(t testing.TB) uint16 {
	t.Helper()

	ln, err := new(net.ListenConfig).Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}
