// Package mem provides an in-process tunnel backend for tests and
// single-binary wiring. Listeners are registered under the URL host as a
// name, for example mem://control, and connectors reach them through a
// synchronous pipe pair.
package mem

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"

	"weftmesh/pkg/tunnel"
)

func init() {
	tunnel.RegisterScheme("mem", tunnel.Backend{
		NewListener:  func(u *url.URL) (tunnel.Listener, error) { return NewListener(u) },
		NewConnector: func(u *url.URL) (tunnel.Connector, error) { return NewConnector(u) },
	})
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]*Listener)
)

func nameOf(u *url.URL) (string, error) {
	if u.Scheme != "mem" {
		return "", tunnel.InvalidProtocolError(u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: mem URL missing name", tunnel.ErrResolution)
	}
	return u.Host, nil
}

// Listener accepts in-process tunnels under one name.
type Listener struct {
	mu      sync.Mutex
	u       *url.URL
	name    string
	newCh   chan tunnel.Tunnel
	closeCh chan struct{}
	closed  bool
}

// NewListener builds a listener for a mem:// URL. The name is not claimed
// until Listen.
func NewListener(u *url.URL) (*Listener, error) {
	name, err := nameOf(u)
	if err != nil {
		return nil, err
	}
	cp := *u
	return &Listener{u: &cp, name: name}, nil
}

func (l *Listener) Listen(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return tunnel.ErrListenerClosed
	}
	l.stopLocked()

	registryMu.Lock()
	defer registryMu.Unlock()
	if cur, ok := registry[l.name]; ok && cur != l {
		return fmt.Errorf("%w: name %q already in use", tunnel.ErrSocket, l.name)
	}
	registry[l.name] = l
	l.newCh = make(chan tunnel.Tunnel, 8)
	l.closeCh = make(chan struct{})
	return nil
}

func (l *Listener) Accept(ctx context.Context) (tunnel.Tunnel, error) {
	l.mu.Lock()
	newCh, closeCh, closed := l.newCh, l.closeCh, l.closed
	l.mu.Unlock()
	if closed {
		return nil, tunnel.ErrListenerClosed
	}
	if newCh == nil {
		return nil, tunnel.ErrNotListening
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-closeCh:
		return nil, tunnel.ErrListenerClosed
	case t := <-newCh:
		return t, nil
	}
}

func (l *Listener) LocalURL() *url.URL {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *l.u
	return &cp
}

func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.stopLocked()
	return nil
}

func (l *Listener) stopLocked() {
	if l.closeCh != nil {
		select {
		case <-l.closeCh:
		default:
			close(l.closeCh)
		}
	}
	registryMu.Lock()
	if registry[l.name] == l {
		delete(registry, l.name)
	}
	registryMu.Unlock()
	l.newCh = nil
}

// deliver hands the server side of a fresh pipe to Accept.
func (l *Listener) deliver(ctx context.Context, t tunnel.Tunnel) error {
	l.mu.Lock()
	newCh, closeCh := l.newCh, l.closeCh
	l.mu.Unlock()
	if newCh == nil {
		return fmt.Errorf("%w: listener for %q is down", tunnel.ErrSocket, l.name)
	}
	select {
	case newCh <- t:
		return nil
	case <-closeCh:
		return fmt.Errorf("%w: listener for %q is down", tunnel.ErrSocket, l.name)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connector establishes in-process tunnels toward one listener name.
type Connector struct {
	u    *url.URL
	name string
}

// NewConnector builds a connector for a mem:// URL.
func NewConnector(u *url.URL) (*Connector, error) {
	name, err := nameOf(u)
	if err != nil {
		return nil, err
	}
	cp := *u
	return &Connector{u: &cp, name: name}, nil
}

func (c *Connector) RemoteURL() *url.URL {
	cp := *c.u
	return &cp
}

// SetIPVersion is accepted for interface parity; names have no address
// family.
func (c *Connector) SetIPVersion(tunnel.IPVersion) {}

func (c *Connector) Connect(ctx context.Context) (tunnel.Tunnel, error) {
	registryMu.Lock()
	l := registry[c.name]
	registryMu.Unlock()
	if l == nil {
		return nil, fmt.Errorf("%w: no listener at %q", tunnel.ErrSocket, c.u.String())
	}

	here := tunnel.BuildURL("mem", c.name)
	srvEnd, cliEnd := net.Pipe()
	srv := tunnel.Wrap(tunnel.NewFramedConn(srvEnd), tunnel.Info{
		Scheme: "mem", Local: l.LocalURL(), Remote: here,
	})
	if err := l.deliver(ctx, srv); err != nil {
		srvEnd.Close()
		cliEnd.Close()
		return nil, err
	}
	return tunnel.Wrap(tunnel.NewFramedConn(cliEnd), tunnel.Info{
		Scheme: "mem", Local: here, Remote: c.RemoteURL(),
	}), nil
}
