package tunnel

import (
	"context"
	"errors"
	"net/url"
	"testing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestResolveLiteralV4(t *testing.T) {
	ap, err := ResolveAddrPort(context.Background(), mustParse(t, "ws://127.0.0.1:8080"), IPBoth)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ap.String() != "127.0.0.1:8080" {
		t.Fatalf("got %s", ap)
	}
	if !ap.Addr().Is4() {
		t.Fatalf("want v4 address, got %s", ap.Addr())
	}
}

func TestResolveLiteralV6(t *testing.T) {
	ap, err := ResolveAddrPort(context.Background(), mustParse(t, "tcp://[::1]:9000"), IPBoth)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ap.Addr().Is4() {
		t.Fatalf("want v6 address, got %s", ap.Addr())
	}
	if ap.Port() != 9000 {
		t.Fatalf("port = %d", ap.Port())
	}
}

func TestResolveWildcard(t *testing.T) {
	ap, err := ResolveAddrPort(context.Background(), mustParse(t, "ws://0.0.0.0:0"), IPBoth)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ap.Port() != 0 || !ap.Addr().Is4() {
		t.Fatalf("got %s", ap)
	}
}

func TestResolveFamilyMismatch(t *testing.T) {
	_, err := ResolveAddrPort(context.Background(), mustParse(t, "ws://127.0.0.1:80"), IPv6Only)
	if !errors.Is(err, ErrResolution) {
		t.Fatalf("want ErrResolution, got %v", err)
	}
	_, err = ResolveAddrPort(context.Background(), mustParse(t, "ws://[::1]:80"), IPv4Only)
	if !errors.Is(err, ErrResolution) {
		t.Fatalf("want ErrResolution, got %v", err)
	}
}

func TestResolveMissingPort(t *testing.T) {
	_, err := ResolveAddrPort(context.Background(), mustParse(t, "ws://example.com"), IPBoth)
	if !errors.Is(err, ErrResolution) {
		t.Fatalf("want ErrResolution, got %v", err)
	}
}

func TestResolveHostname(t *testing.T) {
	ap, err := ResolveAddrPort(context.Background(), mustParse(t, "ws://localhost:1234"), IPBoth)
	if err != nil {
		t.Fatalf("resolve localhost: %v", err)
	}
	if !ap.Addr().IsLoopback() {
		t.Fatalf("localhost resolved to %s", ap.Addr())
	}
}

func TestResolveUnresolvableHost(t *testing.T) {
	_, err := ResolveAddrPort(context.Background(), mustParse(t, "ws://host.invalid:80"), IPBoth)
	if !errors.Is(err, ErrResolution) {
		t.Fatalf("want ErrResolution, got %v", err)
	}
}

func TestNetwork(t *testing.T) {
	v4, _ := ResolveAddrPort(context.Background(), mustParse(t, "tcp://127.0.0.1:1"), IPBoth)
	if got := Network("tcp", v4.Addr()); got != "tcp4" {
		t.Fatalf("Network v4 = %q", got)
	}
	v6, _ := ResolveAddrPort(context.Background(), mustParse(t, "tcp://[::1]:1"), IPBoth)
	if got := Network("udp", v6.Addr()); got != "udp6" {
		t.Fatalf("Network v6 = %q", got)
	}
}
