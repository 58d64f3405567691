// Package ws provides the WebSocket tunnel backend. The ws scheme runs over
// plaintext TCP; wss upgrades accepted connections through the insecuretls
// development context. Packets travel as binary WebSocket messages, one
// message per packet.
package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"weftmesh/pkg/tunnel"
	"weftmesh/pkg/tunnel/insecuretls"
)

func init() {
	b := tunnel.Backend{
		NewListener:  func(u *url.URL) (tunnel.Listener, error) { return NewListener(u) },
		NewConnector: func(u *url.URL) (tunnel.Connector, error) { return NewConnector(u) },
	}
	tunnel.RegisterScheme("ws", b)
	tunnel.RegisterScheme("wss", b)
}

// secureScheme classifies a scheme as plaintext ws or TLS wss.
func secureScheme(scheme string) (bool, error) {
	switch scheme {
	case "ws":
		return false, nil
	case "wss":
		return true, nil
	default:
		return false, tunnel.InvalidProtocolError(scheme)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Tunnels are not browser-facing; origin checks do not apply.
	CheckOrigin: func(*http.Request) bool { return true },
}

const closeGrace = 3 * time.Second

// wsConn adapts a websocket connection to the tunnel message unit. A normal
// or going-away close frame from the peer ends the inbound sequence; an
// abnormal close, like the connection dropping without a close frame,
// surfaces as an error. Only binary messages carry packets.
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	mt, b, err := w.c.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, tunnel.InvalidPacketError(fmt.Sprintf("non-binary message type %d", mt))
	}
	return b, nil
}

func (w *wsConn) WriteMessage(b []byte) error {
	return w.c.WriteMessage(websocket.BinaryMessage, b)
}

func (w *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	return w.c.Close()
}

// noDelayListener disables Nagle on each accepted connection before TLS or
// HTTP touch it.
type noDelayListener struct {
	*net.TCPListener
}

func (l noDelayListener) Accept() (net.Conn, error) {
	c, err := l.AcceptTCP()
	if err != nil {
		return nil, err
	}
	_ = c.SetNoDelay(true)
	return c, nil
}

// serverTLSConfig builds the wss server context. Tests swap it to drive the
// setup failure path.
var serverTLSConfig = insecuretls.ServerConfig

// Listener accepts WebSocket tunnels on one bound socket. A second Listen
// re-binds; Accept before Listen fails fast with ErrNotListening.
type Listener struct {
	mu       sync.Mutex
	u        *url.URL
	secure   bool
	lis      net.Listener
	srv      *http.Server
	tunnelCh chan tunnel.Tunnel
	errCh    chan error
	closeCh  chan struct{}
	closed   bool
}

// NewListener builds a listener for a ws:// or wss:// URL. The socket is not
// bound until Listen.
func NewListener(u *url.URL) (*Listener, error) {
	secure, err := secureScheme(u.Scheme)
	if err != nil {
		return nil, err
	}
	cp := *u
	return &Listener{u: &cp, secure: secure}, nil
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
	raw, err := lc.Listen(ctx, tunnel.Network("tcp", addr.Addr()), addr.String())
	if err != nil {
		return fmt.Errorf("%w: %w", tunnel.ErrSocket, err)
	}
	// Advertise the OS-assigned port when 0 was requested.
	if _, port, err := net.SplitHostPort(raw.Addr().String()); err == nil {
		l.u.Host = net.JoinHostPort(l.u.Hostname(), port)
	}

	lis := net.Listener(noDelayListener{raw.(*net.TCPListener)})
	if l.secure {
		tconf, err := serverTLSConfig()
		if err != nil {
			_ = raw.Close()
			return fmt.Errorf("%w: %w", tunnel.ErrSocket, err)
		}
		lis = tls.NewListener(lis, tconf)
	}

	l.lis = lis
	l.tunnelCh = make(chan tunnel.Tunnel, 8)
	l.errCh = make(chan error, 1)
	l.closeCh = make(chan struct{})

	// Per-connection TLS handshake failures are logged by net/http; route
	// them to zap and keep serving.
	stdlog, _ := zap.NewStdLogAt(zap.L().Named("ws"), zapcore.WarnLevel)
	srv := &http.Server{
		Handler:  l.upgradeHandler(l.tunnelCh, l.closeCh),
		ErrorLog: stdlog,
	}
	l.srv = srv

	errCh, closeCh := l.errCh, l.closeCh
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case <-closeCh:
			default:
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()
	zap.L().Info("websocket listener bound", zap.String("url", l.u.String()))
	return nil
}

// upgradeHandler performs the WebSocket handshake for one inbound
// connection. A failed upgrade is logged and dropped without disturbing the
// listener; a successful one is handed to Accept.
func (l *Listener) upgradeHandler(tunnelCh chan tunnel.Tunnel, closeCh chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			zap.L().Warn("websocket upgrade failed",
				zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}
		info := tunnel.Info{
			Scheme: l.u.Scheme,
			Local:  l.LocalURL(),
			Remote: tunnel.BuildURL(l.u.Scheme, c.RemoteAddr().String()),
		}
		t := tunnel.Wrap(&wsConn{c: c}, info)
		select {
		case tunnelCh <- t:
		case <-closeCh:
			_ = t.Close()
		}
	}
}

func (l *Listener) Accept(ctx context.Context) (tunnel.Tunnel, error) {
	l.mu.Lock()
	tunnelCh, errCh, closeCh, closed := l.tunnelCh, l.errCh, l.closeCh, l.closed
	l.mu.Unlock()
	if closed {
		return nil, tunnel.ErrListenerClosed
	}
	if tunnelCh == nil {
		return nil, tunnel.ErrNotListening
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-closeCh:
		return nil, tunnel.ErrListenerClosed
	case err := <-errCh:
		return nil, fmt.Errorf("%w: %w", tunnel.ErrSocket, err)
	case t := <-tunnelCh:
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
	return l.stopLocked()
}

// stopLocked shuts down the bound socket and serve loop, if any. The socket
// is closed synchronously, not through the http.Server, so the port is free
// for a rebind before the serve goroutine has even started. Established
// tunnels are hijacked connections and stay up.
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
	}
	if l.srv != nil {
		_ = l.srv.Close()
		l.srv = nil
		l.tunnelCh = nil
	}
	return err
}

// Connector establishes WebSocket tunnels toward one remote URL.
type Connector struct {
	u      *url.URL
	secure bool
	ver    tunnel.IPVersion
}

// NewConnector builds a connector for a ws:// or wss:// URL.
func NewConnector(u *url.URL) (*Connector, error) {
	secure, err := secureScheme(u.Scheme)
	if err != nil {
		return nil, err
	}
	cp := *u
	return &Connector{u: &cp, secure: secure}, nil
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

	network := tunnel.Network("tcp", addr.Addr())
	d := websocket.Dialer{
		// Dial the resolved, family-forced address; the URL host is kept
		// only for the Host header and SNI.
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var nd net.Dialer
			conn, err := nd.DialContext(ctx, network, addr.String())
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				_ = tc.SetNoDelay(true)
			}
			return conn, nil
		},
	}
	if c.secure {
		d.TLSClientConfig = insecuretls.ClientConfig()
	}

	conn, _, err := d.DialContext(ctx, c.u.String(), nil)
	if err != nil {
		return nil, classifyDialError(err)
	}

	info := tunnel.Info{
		Scheme: c.u.Scheme,
		Local:  tunnel.BuildURL(c.u.Scheme, conn.LocalAddr().String()),
		Remote: c.RemoteURL(),
	}
	return tunnel.Wrap(&wsConn{c: conn}, info), nil
}

// classifyDialError maps a handshake failure onto the tunnel error taxonomy.
func classifyDialError(err error) error {
	var rec tls.RecordHeaderError
	var opErr *net.OpError
	switch {
	case errors.Is(err, websocket.ErrBadHandshake):
		return fmt.Errorf("%w: %w", tunnel.ErrTransportHandshake, err)
	case errors.As(err, &rec):
		return fmt.Errorf("%w: %w", tunnel.ErrTLSHandshake, err)
	case errors.As(err, &opErr):
		return fmt.Errorf("%w: %w", tunnel.ErrSocket, err)
	default:
		return fmt.Errorf("%w: %w", tunnel.ErrTransportHandshake, err)
	}
}
