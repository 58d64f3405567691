package tunnel

import (
	"context"
	"errors"
	"net/url"
	"testing"
)

type nopListener struct{ u *url.URL }

func (l *nopListener) Listen(context.Context) error           { return nil }
func (l *nopListener) Accept(context.Context) (Tunnel, error) { return nil, ErrNotListening }
func (l *nopListener) LocalURL() *url.URL                     { return l.u }
func (l *nopListener) Close() error                           { return nil }

type nopConnector struct{ u *url.URL }

func (c *nopConnector) Connect(context.Context) (Tunnel, error) { return nil, ErrSocket }
func (c *nopConnector) RemoteURL() *url.URL                     { return c.u }
func (c *nopConnector) SetIPVersion(IPVersion)                  {}

func TestRegistryDispatch(t *testing.T) {
	RegisterScheme("faketest", Backend{
		NewListener:  func(u *url.URL) (Listener, error) { return &nopListener{u: u}, nil },
		NewConnector: func(u *url.URL) (Connector, error) { return &nopConnector{u: u}, nil },
	})

	lis, err := NewListener("faketest://host:1")
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	if lis.LocalURL().Host != "host:1" {
		t.Fatalf("listener url = %v", lis.LocalURL())
	}
	conn, err := NewConnector("faketest://host:2")
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}
	if conn.RemoteURL().Host != "host:2" {
		t.Fatalf("connector url = %v", conn.RemoteURL())
	}

	found := false
	for _, s := range Schemes() {
		if s == "faketest" {
			found = true
		}
	}
	if !found {
		t.Fatalf("faketest missing from Schemes(): %v", Schemes())
	}
}

func TestUnknownSchemeFails(t *testing.T) {
	_, err := NewListener("bogus://host:1")
	var inv InvalidProtocolError
	if !errors.As(err, &inv) {
		t.Fatalf("want InvalidProtocolError, got %v", err)
	}
	if string(inv) != "bogus" {
		t.Fatalf("offending scheme = %q", string(inv))
	}
	if _, err := NewConnector("bogus://host:1"); err == nil {
		t.Fatalf("connector construction accepted unknown scheme")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("duplicate registration did not panic")
		}
	}()
	b := Backend{
		NewListener:  func(u *url.URL) (Listener, error) { return nil, nil },
		NewConnector: func(u *url.URL) (Connector, error) { return nil, nil },
	}
	RegisterScheme("dupetest", b)
	RegisterScheme("dupetest", b)
}

func TestIPVersionString(t *testing.T) {
	if IPBoth.String() != "both" || IPv4Only.String() != "ipv4" || IPv6Only.String() != "ipv6" {
		t.Fatalf("IPVersion strings: %s %s %s", IPBoth, IPv4Only, IPv6Only)
	}
}
