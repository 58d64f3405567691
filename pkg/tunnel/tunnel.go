package tunnel

import (
	"context"
	"net/url"
	"sort"
	"sync"

	"weftmesh/pkg/packet"
)

// IPVersion selects the address family used when resolving and dialing.
type IPVersion int

const (
	// IPBoth accepts either family, preferring IPv4 on dual-stack names.
	IPBoth IPVersion = iota
	IPv4Only
	IPv6Only
)

func (v IPVersion) String() string {
	switch v {
	case IPv4Only:
		return "ipv4"
	case IPv6Only:
		return "ipv6"
	default:
		return "both"
	}
}

// Info describes an established tunnel. It is immutable once set.
type Info struct {
	// Scheme is the tunnel type tag, e.g. "ws" or "wss".
	Scheme string
	// Local and Remote are the endpoints of the underlying connection.
	Local  *url.URL
	Remote *url.URL
}

// Tunnel is a bidirectional packet channel backed by one transport
// connection. Exactly one reader and one writer goroutine are expected;
// Send is additionally serialized internally so concurrent senders cannot
// interleave frames. Recv returns io.EOF after the peer closes gracefully.
// Close closes the underlying connection and unblocks a pending Recv.
type Tunnel interface {
	Send(p *packet.Packet) error
	Recv() (*packet.Packet, error)
	Info() Info
	Close() error
}

// Listener accepts inbound tunnels on one bound socket.
type Listener interface {
	// Listen binds and starts listening. Calling Listen again re-binds,
	// closing the previous socket first.
	Listen(ctx context.Context) error
	// Accept blocks until an inbound tunnel is established, the listener
	// closes, or ctx is done. Calling Accept before Listen fails with
	// ErrNotListening. Per-connection handshake failures are absorbed by
	// the listener; an error from the listening socket itself is fatal.
	Accept(ctx context.Context) (Tunnel, error)
	// LocalURL reports the advertised local endpoint. After Listen on
	// port 0 it carries the OS-assigned port.
	LocalURL() *url.URL
	// Close stops the listener and unblocks Accept.
	Close() error
}

// Connector establishes outbound tunnels toward one remote URL. Each
// Connect call is independent; retry policy belongs to the caller.
type Connector interface {
	Connect(ctx context.Context) (Tunnel, error)
	RemoteURL() *url.URL
	// SetIPVersion restricts address resolution and dialing to one family.
	SetIPVersion(v IPVersion)
}

// Backend constructs listeners and connectors for one URL scheme.
type Backend struct {
	NewListener  func(u *url.URL) (Listener, error)
	NewConnector func(u *url.URL) (Connector, error)
}

var (
	regMu    sync.RWMutex
	backends = make(map[string]Backend)
)

// RegisterScheme makes a backend available under scheme. It is intended to
// be called from backend init functions and panics on double registration.
func RegisterScheme(scheme string, b Backend) {
	regMu.Lock()
	defer regMu.Unlock()
	if b.NewListener == nil || b.NewConnector == nil {
		panic("tunnel: RegisterScheme with nil constructor")
	}
	if _, dup := backends[scheme]; dup {
		panic("tunnel: RegisterScheme called twice for scheme " + scheme)
	}
	backends[scheme] = b
}

// Schemes returns the registered scheme names, sorted.
func Schemes() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(backends))
	for s := range backends {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// NewListener parses rawURL and builds a listener through the backend
// registered for its scheme.
func NewListener(rawURL string) (Listener, error) {
	u, b, err := lookup(rawURL)
	if err != nil {
		return nil, err
	}
	return b.NewListener(u)
}

// NewConnector parses rawURL and builds a connector through the backend
// registered for its scheme.
func NewConnector(rawURL string) (Connector, error) {
	u, b, err := lookup(rawURL)
	if err != nil {
		return nil, err
	}
	return b.NewConnector(u)
}

func lookup(rawURL string) (*url.URL, Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, Backend{}, InvalidProtocolError(rawURL)
	}
	regMu.RLock()
	b, ok := backends[u.Scheme]
	regMu.RUnlock()
	if !ok {
		return nil, Backend{}, InvalidProtocolError(u.Scheme)
	}
	return u, b, nil
}

// BuildURL forms a scheme://host:port URL from a socket address string.
func BuildURL(scheme, hostport string) *url.URL {
	return &url.URL{Scheme: scheme, Host: hostport}
}
