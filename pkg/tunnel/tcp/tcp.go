// Package tcp provides a raw TCP tunnel backend. Packets are delimited with
// the length-prefixed framing from the tunnel package.
package tcp

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"weftmesh/pkg/tunnel"
)

func init() {
	tunnel.RegisterScheme("tcp", tunnel.Backend{
		NewListener:  func(u *url.URL) (tunnel.Listener, error) { return NewListener(u) },
		NewConnector: func(u *url.URL) (tunnel.Connector, error) { return NewConnector(u) },
	})
}

func checkScheme(u *url.URL) error {
	if u.Scheme != "tcp" {
		return tunnel.InvalidProtocolError(u.Scheme)
	}
	return nil
}

// Listener accepts framed TCP tunnels on one bound socket.
type Listener struct {
	mu      sync.Mutex
	u       *url.URL
	lis     net.Listener
	newCh   chan tunnel.Tunnel
	errCh   chan error
	closeCh chan struct{}
	closed  bool
}

// NewListener builds a listener for a tcp:// URL. The socket is not bound
// until Listen.
func NewListener(u *url.URL) (*Listener, error) {
	if err := checkScheme(u); err != nil {
		return nil, err
	}
	cp := *u
	return &Listener{u: &cp}, nil
}

func (l *Listener) Listen(ctx context.Context) error {
	addr, err := tunnel.ResolveAddrPort(ctx, l.u, tunnel.IPBoth)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return tunnel.ErrListenerClosed
	}
	l.stopLocked()

	lc := net.ListenConfig{Control: tunnel.ControlReuseAddr}
	lis, err := lc.Listen(ctx, tunnel.Network("tcp", addr.Addr()), addr.String())
	if err != nil {
		return fmt.Errorf("%w: %w", tunnel.ErrSocket, err)
	}
	if _, port, err := net.SplitHostPort(lis.Addr().String()); err == nil {
		l.u.Host = net.JoinHostPort(l.u.Hostname(), port)
	}

	l.lis = lis
	l.newCh = make(chan tunnel.Tunnel, 8)
	l.errCh = make(chan error, 1)
	l.closeCh = make(chan struct{})

	local := l.localURLLocked()
	go acceptLoop(lis, local, l.newCh, l.errCh, l.closeCh)
	zap.L().Info("tcp listener bound", zap.String("url", l.u.String()))
	return nil
}

// acceptLoop hands accepted connections to Accept until the socket closes.
// Accept errors on a live listener are pushed to errCh and end the loop.
func acceptLoop(lis net.Listener, local *url.URL, newCh chan tunnel.Tunnel, errCh chan error, closeCh chan struct{}) {
	for {
		c, err := lis.Accept()
		if err != nil {
			select {
			case <-closeCh:
			default:
				select {
				case errCh <- err:
				default:
				}
			}
			return
		}
		if tc, ok := c.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		info := tunnel.Info{
			Scheme: local.Scheme,
			Local:  local,
			Remote: tunnel.BuildURL(local.Scheme, c.RemoteAddr().String()),
		}
		t := tunnel.Wrap(tunnel.NewFramedConn(c), info)
		select {
		case newCh <- t:
		case <-closeCh:
			_ = t.Close()
			return
		}
	}
}

func (l *Listener) Accept(ctx context.Context) (tunnel.Tunnel, error) {
	l.mu.Lock()
	newCh, errCh, closeCh, closed := l.newCh, l.errCh, l.closeCh, l.closed
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
	case err := <-errCh:
		return nil, fmt.Errorf("%w: %w", tunnel.ErrSocket, err)
	case t := <-newCh:
		return t, nil
	}
}

func (l *Listener) LocalURL() *url.URL {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.localURLLocked()
}

func (l *Listener) localURLLocked() *url.URL {
	cp := *l.u
	return &cp
}

func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return l.stopLocked()
}

func (l *Listener) stopLocked() error {
	if l.closeCh != nil {
		select {
		case <-l.closeCh:
		default:
			close(l.closeCh)
		}
	}
	var err error
	if l.lis != nil {
		err = l.lis.Close()
		l.lis = nil
		l.newCh = nil
	}
	return err
}

// Connector establishes framed TCP tunnels toward one remote URL.
type Connector struct {
	u   *url.URL
	ver tunnel.IPVersion
}

// NewConnector builds a connector for a tcp:// URL.
func NewConnector(u *url.URL) (*Connector, error) {
	if err := checkScheme(u); err != nil {
		return nil, err
	}
	cp := *u
	return &Connector{u: &cp}, nil
}

func (c *Connector) RemoteURL() *url.URL {
	cp := *c.u
	return &cp
}

func (c *Connector) SetIPVersion(v tunnel.IPVersion) { c.ver = v }

func (c *Connector) Connect(ctx context.Context) (tunnel.Tunnel, error) {
	addr, err := tunnel.ResolveAddrPort(ctx, c.u, c.ver)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, tunnel.Network("tcp", addr.Addr()), addr.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tunnel.ErrSocket, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	info := tunnel.Info{
		Scheme: c.u.Scheme,
		Local:  tunnel.BuildURL(c.u.Scheme, conn.LocalAddr().String()),
		Remote: c.RemoteURL(),
	}
	return tunnel.Wrap(tunnel.NewFramedConn(conn), info), nil
}
