package tunnel

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MessageConn is the transport-native message unit a Tunnel is built over.
// ReadMessage returns io.EOF once the peer has closed gracefully; transports
// without a close signal never return io.EOF. WriteMessage sends exactly one
// message and blocks until the transport has taken it.
type MessageConn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(b []byte) error
	Close() error
}

// MaxFrameSize bounds a single length-prefixed frame.
const MaxFrameSize = 1 << 24

// FramedConn adapts a byte stream into a MessageConn using u32 little-endian
// length-prefixed frames. An EOF on a frame boundary is a graceful close; an
// EOF inside a frame is a transport error.
type FramedConn struct {
	mu sync.Mutex
	c  io.ReadWriteCloser
	br *bufio.Reader
	bw *bufio.Writer
}

// NewFramedConn frames packets over c.
func NewFramedConn(c io.ReadWriteCloser) *FramedConn {
	return &FramedConn{c: c, br: bufio.NewReader(c), bw: bufio.NewWriter(c)}
}

func (f *FramedConn) WriteMessage(b []byte) error {
	if len(b) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(b))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := f.bw.Write(lenbuf[:]); err != nil {
		return err
	}
	if _, err := f.bw.Write(b); err != nil {
		return err
	}
	return f.bw.Flush()
}

func (f *FramedConn) ReadMessage() ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(f.br, lenbuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated frame header", ErrTransport)
		}
		return nil, err
	}
	n := int(binary.LittleEndian.Uint32(lenbuf[:]))
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: invalid frame size %d", ErrTransport, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(f.br, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated frame", ErrTransport)
		}
		return nil, err
	}
	return buf, nil
}

func (f *FramedConn) Close() error { return f.c.Close() }
