// Package tunneltest holds helpers shared by the backend test suites.
package tunneltest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"testing"
	"time"

	"weftmesh/pkg/packet"
	"weftmesh/pkg/tunnel"
)

const timeout = 10 * time.Second

// PingPong binds the listener, dials it with a connector built from the
// advertised local URL, and exchanges one packet each way.
func PingPong(t *testing.T, lis tunnel.Listener, dial func(local *url.URL) (tunnel.Connector, error)) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := lis.Listen(ctx); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer lis.Close()

	srvErr := make(chan error, 1)
	go func() { srvErr <- serveOnce(ctx, lis) }()

	conn, err := dial(lis.LocalURL())
	if err != nil {
		t.Fatalf("build connector: %v", err)
	}
	tun, err := conn.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tun.Close()

	if err := tun.Send(packet.New([]byte("ping"))); err != nil {
		t.Fatalf("Send: %v", err)
	}
	pong, err := tun.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if !bytes.Equal(pong.Bytes(), []byte("pong")) {
		t.Fatalf("got %q, want pong", pong.Bytes())
	}
	if err := <-srvErr; err != nil {
		t.Fatalf("server side: %v", err)
	}

	info := tun.Info()
	if info.Scheme == "" || info.Local == nil || info.Remote == nil {
		t.Fatalf("incomplete tunnel info: %+v", info)
	}
}

// serveOnce accepts one tunnel, expects a ping and answers with a pong.
func serveOnce(ctx context.Context, lis tunnel.Listener) error {
	tun, err := lis.Accept(ctx)
	if err != nil {
		return err
	}
	defer tun.Close()
	p, err := tun.Recv()
	if err != nil {
		return err
	}
	if !bytes.Equal(p.Bytes(), []byte("ping")) {
		return errors.New("unexpected payload " + string(p.Bytes()))
	}
	return tun.Send(packet.New([]byte("pong")))
}

// GracefulClose checks that closing the client side ends the server's
// receive sequence with io.EOF rather than a transport error.
func GracefulClose(t *testing.T, lis tunnel.Listener, dial func(local *url.URL) (tunnel.Connector, error)) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := lis.Listen(ctx); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer lis.Close()

	srvErr := make(chan error, 1)
	go func() {
		tun, err := lis.Accept(ctx)
		if err != nil {
			srvErr <- err
			return
		}
		defer tun.Close()
		if _, err := tun.Recv(); err != nil {
			srvErr <- err
			return
		}
		_, err = tun.Recv()
		if !errors.Is(err, io.EOF) {
			srvErr <- errors.New("want io.EOF after peer close, got " + errString(err))
			return
		}
		srvErr <- nil
	}()

	conn, err := dial(lis.LocalURL())
	if err != nil {
		t.Fatalf("build connector: %v", err)
	}
	tun, err := conn.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := tun.Send(packet.New([]byte("bye"))); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := tun.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-srvErr; err != nil {
		t.Fatalf("server side: %v", err)
	}
}

func errString(err error) string {
	if err == nil {
		return "nil"
	}
	return err.Error()
}
