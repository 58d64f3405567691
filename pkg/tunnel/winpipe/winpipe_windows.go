//go:build windows

package winpipe

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"

	"github.com/Microsoft/go-winio"
	"go.uber.org/zap"

	"weftmesh/pkg/tunnel"
)

func init() {
	tunnel.RegisterScheme("winpipe", tunnel.Backend{
		NewListener:  func(u *url.URL) (tunnel.Listener, error) { return NewListener(u) },
		NewConnector: func(u *url.URL) (tunnel.Connector, error) { return NewConnector(u) },
	})
}

// pipePath maps winpipe://name/sub onto the local pipe namespace.
func pipePath(u *url.URL) (string, error) {
	if u.Scheme != "winpipe" {
		return "", tunnel.InvalidProtocolError(u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: winpipe URL missing name", tunnel.ErrResolution)
	}
	return `\\.\pipe\` + u.Host + u.Path, nil
}

// Listener accepts framed named-pipe tunnels.
type Listener struct {
	mu      sync.Mutex
	u       *url.URL
	path    string
	lis     net.Listener
	newCh   chan tunnel.Tunnel
	errCh   chan error
	closeCh chan struct{}
	closed  bool
}

// NewListener builds a listener for a winpipe:// URL. The pipe is not
// created until Listen.
func NewListener(u *url.URL) (*Listener, error) {
	path, err := pipePath(u)
	if err != nil {
		return nil, err
	}
	cp := *u
	return &Listener{u: &cp, path: path}, nil
}

func (l *Listener) Listen(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return tunnel.ErrListenerClosed
	}
	l.stopLocked()

	lis, err := winio.ListenPipe(l.path, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", tunnel.ErrSocket, err)
	}

	l.lis = lis
	l.newCh = make(chan tunnel.Tunnel, 8)
	l.errCh = make(chan error, 1)
	l.closeCh = make(chan struct{})

	local := l.localURLLocked()
	go acceptLoop(lis, local, l.newCh, l.errCh, l.closeCh)
	zap.L().Info("winpipe listener bound", zap.String("url", l.u.String()))
	return nil
}

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
		info := tunnel.Info{
			Scheme: local.Scheme,
			Local:  local,
			Remote: local,
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

// Connector establishes framed named-pipe tunnels.
type Connector struct {
	u    *url.URL
	path string
}

// NewConnector builds a connector for a winpipe:// URL.
func NewConnector(u *url.URL) (*Connector, error) {
	path, err := pipePath(u)
	if err != nil {
		return nil, err
	}
	cp := *u
	return &Connector{u: &cp, path: path}, nil
}

func (c *Connector) RemoteURL() *url.URL {
	cp := *c.u
	return &cp
}

// SetIPVersion is accepted for interface parity; pipes have no address
// family.
func (c *Connector) SetIPVersion(tunnel.IPVersion) {}

func (c *Connector) Connect(ctx context.Context) (tunnel.Tunnel, error) {
	conn, err := winio.DialPipeContext(ctx, c.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tunnel.ErrSocket, err)
	}
	info := tunnel.Info{
		Scheme: c.u.Scheme,
		Local:  c.RemoteURL(),
		Remote: c.RemoteURL(),
	}
	return tunnel.Wrap(tunnel.NewFramedConn(conn), info), nil
}
