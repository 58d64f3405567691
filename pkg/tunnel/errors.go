package tunnel

import "errors"

// Sentinel errors for the stages of establishing and driving a tunnel.
// Backends attach causes with fmt.Errorf("%w: %w", sentinel, cause);
// callers match with errors.Is.
var (
	// ErrResolution reports a host or port that could not be resolved to a
	// socket address in the requested family.
	ErrResolution = errors.New("address resolution failed")
	// ErrSocket reports an OS-level socket failure: bind, listen, accept,
	// or dial.
	ErrSocket = errors.New("socket error")
	// ErrTLSHandshake reports a failed TLS upgrade.
	ErrTLSHandshake = errors.New("tls handshake failed")
	// ErrTransportHandshake reports a failed message-protocol upgrade,
	// e.g. the WebSocket handshake.
	ErrTransportHandshake = errors.New("transport handshake failed")
	// ErrTransport reports a read or write failure on an established
	// tunnel. A graceful peer close is io.EOF, never ErrTransport.
	ErrTransport = errors.New("transport error")

	// ErrNotListening reports Accept on a listener that was never bound.
	ErrNotListening = errors.New("listener is not listening")
	// ErrListenerClosed reports an operation on a closed listener.
	ErrListenerClosed = errors.New("listener closed")
	// ErrTunnelClosed reports Send or Recv on a locally closed tunnel.
	ErrTunnelClosed = errors.New("tunnel closed")
)

// InvalidProtocolError reports a URL scheme outside the registered set.
type InvalidProtocolError string

func (e InvalidProtocolError) Error() string { return "invalid protocol: " + string(e) }

// InvalidPacketError reports an inbound message that cannot carry a packet,
// e.g. a non-binary WebSocket message.
type InvalidPacketError string

func (e InvalidPacketError) Error() string { return "invalid packet: " + string(e) }
