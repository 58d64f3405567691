// Package quic provides a QUIC tunnel backend. Each tunnel is one
// bidirectional stream on its own connection, framed with the
// length-prefixed framing from the tunnel package. TLS comes from the
// insecuretls development context. The listener owns the UDP socket, so
// closing it tears down every tunnel accepted from it.
package quic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"

	quicgo "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"weftmesh/pkg/tunnel"
	"weftmesh/pkg/tunnel/insecuretls"
)

func init() {
	tunnel.RegisterScheme("quic", tunnel.Backend{
		NewListener:  func(u *url.URL) (tunnel.Listener, error) { return NewListener(u) },
		NewConnector: func(u *url.URL) (tunnel.Connector, error) { return NewConnector(u) },
	})
}

const alpn = "weftmesh"

func checkScheme(u *url.URL) error {
	if u.Scheme != "quic" {
		return tunnel.InvalidProtocolError(u.Scheme)
	}
	return nil
}

// streamConn adapts one QUIC stream to the tunnel message unit. A peer that
// closes its connection with application code 0 ends the inbound sequence
// gracefully, same as a plain stream FIN.
type streamConn struct {
	fr   *tunnel.FramedConn
	conn quicgo.Connection
}

func (s *streamConn) ReadMessage() ([]byte, error) {
	b, err := s.fr.ReadMessage()
	if err == nil {
		return b, nil
	}
	var ae *quicgo.ApplicationError
	if errors.As(err, &ae) && ae.ErrorCode == 0 {
		return nil, io.EOF
	}
	return nil, err
}

func (s *streamConn) WriteMessage(b []byte) error {
	return s.fr.WriteMessage(b)
}

func (s *streamConn) Close() error {
	_ = s.fr.Close()
	return s.conn.CloseWithError(0, "")
}

// Listener accepts QUIC tunnels on one bound socket.
type Listener struct {
	mu      sync.Mutex
	u       *url.URL
	pc      net.PacketConn
	lis     *quicgo.Listener
	cancel  context.CancelFunc
	newCh   chan tunnel.Tunnel
	errCh   chan error
	closeCh chan struct{}
	closed  bool
}

// NewListener builds a listener for a quic:// URL. The socket is not bound
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

	tconf, err := insecuretls.ServerConfig()
	if err != nil {
		return fmt.Errorf("%w: %w", tunnel.ErrSocket, err)
	}
	tconf.NextProtos = []string{alpn}

	lc := net.ListenConfig{Control: tunnel.ControlReuseAddr}
	pc, err := lc.ListenPacket(ctx, tunnel.Network("udp", addr.Addr()), addr.String())
	if err != nil {
		return fmt.Errorf("%w: %w", tunnel.ErrSocket, err)
	}
	lis, err := quicgo.Listen(pc, tconf, &quicgo.Config{})
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("%w: %w", tunnel.ErrSocket, err)
	}
	if _, port, err := net.SplitHostPort(pc.LocalAddr().String()); err == nil {
		l.u.Host = net.JoinHostPort(l.u.Hostname(), port)
	}

	l.pc = pc
	l.lis = lis
	l.newCh = make(chan tunnel.Tunnel, 8)
	l.errCh = make(chan error, 1)
	l.closeCh = make(chan struct{})

	actx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	local := l.localURLLocked()
	go acceptLoop(actx, lis, local, l.newCh, l.errCh, l.closeCh)
	zap.L().Info("quic listener bound", zap.String("url", l.u.String()))
	return nil
}

// acceptLoop surfaces handshaken connections through newCh. A connection
// whose first stream never materializes is dropped without disturbing the
// listener; accept errors on a live listener are pushed to errCh and end the
// loop.
func acceptLoop(ctx context.Context, lis *quicgo.Listener, local *url.URL, newCh chan tunnel.Tunnel, errCh chan error, closeCh chan struct{}) {
	for {
		conn, err := lis.Accept(ctx)
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
		go func(conn quicgo.Connection) {
			st, err := conn.AcceptStream(ctx)
			if err != nil {
				zap.L().Warn("quic stream accept failed",
					zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
				_ = conn.CloseWithError(1, "no stream")
				return
			}
			info := tunnel.Info{
				Scheme: local.Scheme,
				Local:  local,
				Remote: tunnel.BuildURL(local.Scheme, conn.RemoteAddr().String()),
			}
			t := tunnel.Wrap(&streamConn{fr: tunnel.NewFramedConn(st), conn: conn}, info)
			select {
			case newCh <- t:
			case <-closeCh:
				_ = t.Close()
			}
		}(conn)
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
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	var err error
	if l.lis != nil {
		err = l.lis.Close()
		l.lis = nil
	}
	if l.pc != nil {
		if cerr := l.pc.Close(); err == nil {
			err = cerr
		}
		l.pc = nil
		l.newCh = nil
	}
	return err
}

// Connector establishes QUIC tunnels toward one remote URL.
type Connector struct {
	u   *url.URL
	ver tunnel.IPVersion
}

// NewConnector builds a connector for a quic:// URL.
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
	tconf := insecuretls.ClientConfig()
	tconf.NextProtos = []string{alpn}
	conn, err := quicgo.DialAddr(ctx, addr.String(), tconf, &quicgo.Config{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tunnel.ErrTransportHandshake, err)
	}
	st, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "no stream")
		return nil, fmt.Errorf("%w: %w", tunnel.ErrTransportHandshake, err)
	}
	info := tunnel.Info{
		Scheme: c.u.Scheme,
		Local:  tunnel.BuildURL(c.u.Scheme, conn.LocalAddr().String()),
		Remote: c.RemoteURL(),
	}
	return tunnel.Wrap(&streamConn{fr: tunnel.NewFramedConn(st), conn: conn}, info), nil
}
