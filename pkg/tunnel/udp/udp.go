// Package udp provides a datagram tunnel backend. Each packet travels as one
// UDP datagram, so packets are capped at the datagram payload limit and
// delivery is best effort. UDP has no close signal: receive sequences never
// end with a graceful end-of-sequence, and closing the listener tears down
// every tunnel sharing its socket.
package udp

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"weftmesh/pkg/tunnel"
)

func init() {
	tunnel.RegisterScheme("udp", tunnel.Backend{
		NewListener:  func(u *url.URL) (tunnel.Listener, error) { return NewListener(u) },
		NewConnector: func(u *url.URL) (tunnel.Connector, error) { return NewConnector(u) },
	})
}

func checkScheme(u *url.URL) error {
	if u.Scheme != "udp" {
		return tunnel.InvalidProtocolError(u.Scheme)
	}
	return nil
}

// maxDatagram bounds receive buffers; it exceeds the largest UDP payload.
const maxDatagram = 64 << 10

// peerMap tracks the live tunnel for each remote address on one socket.
type peerMap struct {
	mu sync.Mutex
	m  map[netip.AddrPort]*serverConn
}

func (p *peerMap) remove(key netip.AddrPort) {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
}

func (p *peerMap) closeAll() {
	p.mu.Lock()
	conns := make([]*serverConn, 0, len(p.m))
	for _, sc := range p.m {
		conns = append(conns, sc)
	}
	p.mu.Unlock()
	for _, sc := range conns {
		_ = sc.Close()
	}
}

// serverConn is the listener-side message conn for one remote address.
// Reads are fed by the socket's demux loop.
type serverConn struct {
	pc    *net.UDPConn
	raddr netip.AddrPort
	peers *peerMap
	rxCh  chan []byte
	done  chan struct{}
	once  sync.Once
}

func (s *serverConn) ReadMessage() ([]byte, error) {
	select {
	case b := <-s.rxCh:
		return b, nil
	case <-s.done:
		return nil, net.ErrClosed
	}
}

func (s *serverConn) WriteMessage(b []byte) error {
	select {
	case <-s.done:
		return net.ErrClosed
	default:
	}
	_, err := s.pc.WriteToUDPAddrPort(b, s.raddr)
	return err
}

func (s *serverConn) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.peers.remove(s.raddr)
	})
	return nil
}

// Listener accepts datagram tunnels, one per remote address, on one bound
// socket.
type Listener struct {
	mu      sync.Mutex
	u       *url.URL
	pc      *net.UDPConn
	newCh   chan tunnel.Tunnel
	errCh   chan error
	closeCh chan struct{}
	closed  bool
}

// NewListener builds a listener for a udp:// URL. The socket is not bound
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
	pc, err := lc.ListenPacket(ctx, tunnel.Network("udp", addr.Addr()), addr.String())
	if err != nil {
		return fmt.Errorf("%w: %w", tunnel.ErrSocket, err)
	}
	if _, port, err := net.SplitHostPort(pc.LocalAddr().String()); err == nil {
		l.u.Host = net.JoinHostPort(l.u.Hostname(), port)
	}

	l.pc = pc.(*net.UDPConn)
	l.newCh = make(chan tunnel.Tunnel, 8)
	l.errCh = make(chan error, 1)
	l.closeCh = make(chan struct{})

	local := l.localURLLocked()
	go readLoop(l.pc, local, &peerMap{m: make(map[netip.AddrPort]*serverConn)}, l.newCh, l.errCh, l.closeCh)
	zap.L().Info("udp listener bound", zap.String("url", l.u.String()))
	return nil
}

// readLoop demuxes inbound datagrams by source address. The first datagram
// from a new address surfaces a tunnel through newCh; later ones are queued
// to the existing tunnel. Queues never block the socket, so bursts beyond
// them are dropped as any datagram transport may drop.
func readLoop(pc *net.UDPConn, local *url.URL, peers *peerMap, newCh chan tunnel.Tunnel, errCh chan error, closeCh chan struct{}) {
	defer peers.closeAll()
	buf := make([]byte, maxDatagram)
	for {
		n, raddr, err := pc.ReadFromUDPAddrPort(buf)
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
		key := netip.AddrPortFrom(raddr.Addr().Unmap(), raddr.Port())

		peers.mu.Lock()
		sc, known := peers.m[key]
		if !known {
			sc = &serverConn{
				pc:    pc,
				raddr: key,
				peers: peers,
				rxCh:  make(chan []byte, 32),
				done:  make(chan struct{}),
			}
			peers.m[key] = sc
		}
		peers.mu.Unlock()

		if !known {
			info := tunnel.Info{
				Scheme: local.Scheme,
				Local:  local,
				Remote: tunnel.BuildURL(local.Scheme, key.String()),
			}
			t := tunnel.Wrap(sc, info)
			select {
			case newCh <- t:
			case <-closeCh:
				_ = t.Close()
				return
			default:
				zap.L().Warn("udp accept queue full, dropping peer",
					zap.String("remote", key.String()))
				_ = t.Close()
				continue
			}
		}

		b := make([]byte, n)
		copy(b, buf[:n])
		select {
		case sc.rxCh <- b:
		default:
			// Receive queue full; shed the datagram.
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
	if l.pc != nil {
		err = l.pc.Close()
		l.pc = nil
		l.newCh = nil
	}
	return err
}

// clientConn is the connector-side message conn over a connected socket.
type clientConn struct {
	c *net.UDPConn
}

func (c *clientConn) ReadMessage() ([]byte, error) {
	buf := make([]byte, maxDatagram)
	n, err := c.c.Read(buf)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, buf[:n])
	return b, nil
}

func (c *clientConn) WriteMessage(b []byte) error {
	_, err := c.c.Write(b)
	return err
}

func (c *clientConn) Close() error { return c.c.Close() }

// Connector establishes datagram tunnels toward one remote URL.
type Connector struct {
	u   *url.URL
	ver tunnel.IPVersion
}

// NewConnector builds a connector for a udp:// URL.
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
	conn, err := d.DialContext(ctx, tunnel.Network("udp", addr.Addr()), addr.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tunnel.ErrSocket, err)
	}
	uc := conn.(*net.UDPConn)
	info := tunnel.Info{
		Scheme: c.u.Scheme,
		Local:  tunnel.BuildURL(c.u.Scheme, uc.LocalAddr().String()),
		Remote: c.RemoteURL(),
	}
	return tunnel.Wrap(&clientConn{c: uc}, info), nil
}
