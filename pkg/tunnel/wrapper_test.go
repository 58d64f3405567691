package tunnel

import (
	"bytes"
	"errors"
	"io"
	"net/url"
	"testing"

	"weftmesh/pkg/packet"
)

// fakeConn scripts MessageConn behavior for wrapper tests.
type fakeConn struct {
	reads    [][]byte
	readErr  error
	written  [][]byte
	writeErr error
	closed   int
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	if len(f.reads) > 0 {
		b := f.reads[0]
		f.reads = f.reads[1:]
		return b, nil
	}
	if f.readErr != nil {
		return nil, f.readErr
	}
	return nil, io.EOF
}

func (f *fakeConn) WriteMessage(b []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, b)
	return nil
}

func (f *fakeConn) Close() error {
	f.closed++
	return nil
}

func testInfo() Info {
	return Info{
		Scheme: "mem",
		Local:  &url.URL{Scheme: "mem", Host: "local"},
		Remote: &url.URL{Scheme: "mem", Host: "remote"},
	}
}

func TestWrapSendRecv(t *testing.T) {
	fc := &fakeConn{reads: [][]byte{[]byte("in")}}
	tn := Wrap(fc, testInfo())

	if err := tn.Send(packet.New([]byte("out"))); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fc.written) != 1 || !bytes.Equal(fc.written[0], []byte("out")) {
		t.Fatalf("written = %v", fc.written)
	}
	p, err := tn.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if !bytes.Equal(p.Bytes(), []byte("in")) {
		t.Fatalf("recv payload %q", p.Bytes())
	}
	if got := tn.Info(); got.Scheme != "mem" {
		t.Fatalf("info = %+v", got)
	}
}

func TestWrapRecvEOFPassesThrough(t *testing.T) {
	tn := Wrap(&fakeConn{}, testInfo())
	_, err := tn.Recv()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("want io.EOF, got %v", err)
	}
	if errors.Is(err, ErrTransport) {
		t.Fatalf("graceful close wrapped as transport error")
	}
}

func TestWrapSendErrorWrapsTransport(t *testing.T) {
	boom := errors.New("pipe burst")
	tn := Wrap(&fakeConn{writeErr: boom}, testInfo())
	err := tn.Send(packet.New([]byte("x")))
	if !errors.Is(err, ErrTransport) || !errors.Is(err, boom) {
		t.Fatalf("want ErrTransport wrapping cause, got %v", err)
	}
}

func TestWrapRecvErrorWrapsTransport(t *testing.T) {
	boom := errors.New("reset")
	tn := Wrap(&fakeConn{readErr: boom}, testInfo())
	_, err := tn.Recv()
	if !errors.Is(err, ErrTransport) || !errors.Is(err, boom) {
		t.Fatalf("want ErrTransport wrapping cause, got %v", err)
	}
}

func TestWrapInvalidPacketPassesThrough(t *testing.T) {
	tn := Wrap(&fakeConn{readErr: InvalidPacketError("text message")}, testInfo())
	_, err := tn.Recv()
	var inv InvalidPacketError
	if !errors.As(err, &inv) {
		t.Fatalf("want InvalidPacketError, got %v", err)
	}
	if errors.Is(err, ErrTransport) {
		t.Fatalf("protocol violation wrapped as transport error")
	}
}

func TestWrapCloseIdempotent(t *testing.T) {
	fc := &fakeConn{}
	tn := Wrap(fc, testInfo())
	if err := tn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tn.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if fc.closed != 1 {
		t.Fatalf("underlying closed %d times", fc.closed)
	}
	if err := tn.Send(packet.New(nil)); !errors.Is(err, ErrTunnelClosed) {
		t.Fatalf("send after close: %v", err)
	}
}

func TestWrapStats(t *testing.T) {
	fc := &fakeConn{reads: [][]byte{[]byte("abcde")}}
	tn := Wrap(fc, testInfo())
	if err := tn.Send(packet.New([]byte("xy"))); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := tn.Recv(); err != nil {
		t.Fatalf("recv: %v", err)
	}
	sp, ok := tn.(StatsProvider)
	if !ok {
		t.Fatalf("wrapped tunnel does not provide stats")
	}
	s := sp.Stats()
	if s.TxPackets != 1 || s.TxBytes != 2 || s.RxPackets != 1 || s.RxBytes != 5 {
		t.Fatalf("stats = %+v", s)
	}
}
