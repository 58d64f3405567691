package quic

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"
	"time"

	"weftmesh/pkg/tunnel"
	"weftmesh/pkg/tunnel/tunneltest"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func dialLoopback(local *url.URL) (tunnel.Connector, error) {
	u := *local
	u.Host = net.JoinHostPort("127.0.0.1", local.Port())
	return NewConnector(&u)
}

func TestPingPong(t *testing.T) {
	lis, err := NewListener(mustParse(t, "quic://0.0.0.0:0"))
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	tunneltest.PingPong(t, lis, dialLoopback)
}

func TestGracefulClose(t *testing.T) {
	lis, err := NewListener(mustParse(t, "quic://127.0.0.1:0"))
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	tunneltest.GracefulClose(t, lis, dialLoopback)
}

func TestPortZeroRewrite(t *testing.T) {
	lis, err := NewListener(mustParse(t, "quic://127.0.0.1:0"))
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := lis.Listen(ctx); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer lis.Close()
	if port := lis.LocalURL().Port(); port == "" || port == "0" {
		t.Fatalf("port not rewritten, got %q", port)
	}
}

func TestAcceptBeforeListen(t *testing.T) {
	lis, err := NewListener(mustParse(t, "quic://127.0.0.1:0"))
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	if _, err := lis.Accept(context.Background()); !errors.Is(err, tunnel.ErrNotListening) {
		t.Fatalf("want ErrNotListening, got %v", err)
	}
}

func TestConnectNoServer(t *testing.T) {
	probe, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	addr := probe.LocalAddr().String()
	probe.Close()

	conn, err := NewConnector(mustParse(t, "quic://"+addr))
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := conn.Connect(ctx); !errors.Is(err, tunnel.ErrTransportHandshake) {
		t.Fatalf("want ErrTransportHandshake, got %v", err)
	}
}
