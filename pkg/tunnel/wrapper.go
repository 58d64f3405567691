package tunnel

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"weftmesh/pkg/packet"
)

// Wrap ties a message connection and its metadata into a Tunnel. Errors from
// the underlying connection surface on the Send or Recv that hit them; the
// wrapper adds no buffering, so backpressure from the transport blocks Send
// directly.
func Wrap(mc MessageConn, info Info) Tunnel {
	return &wrapped{mc: mc, info: info}
}

type wrapped struct {
	sendMu sync.Mutex
	mc     MessageConn
	info   Info
	stats  Stats
	closed atomic.Bool
}

func (t *wrapped) Send(p *packet.Packet) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if t.closed.Load() {
		return ErrTunnelClosed
	}
	if err := t.mc.WriteMessage(p.Bytes()); err != nil {
		if errors.Is(err, ErrTransport) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	t.stats.addTx(p.Len())
	return nil
}

func (t *wrapped) Recv() (*packet.Packet, error) {
	b, err := t.mc.ReadMessage()
	if err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case t.closed.Load():
			return nil, ErrTunnelClosed
		case errors.Is(err, ErrTransport):
			return nil, err
		default:
			var inv InvalidPacketError
			if errors.As(err, &inv) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}
	t.stats.addRx(len(b))
	return packet.FromBytes(b), nil
}

func (t *wrapped) Info() Info { return t.info }

func (t *wrapped) Stats() Snapshot { return t.stats.Snapshot() }

func (t *wrapped) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.mc.Close()
}
