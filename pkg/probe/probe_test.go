package probe

import (
	"bytes"
	"testing"
	"time"

	"weftmesh/pkg/codec"
)

func TestNewPadsToSize(t *testing.T) {
	m, err := New(7, 56)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Seq != 7 {
		t.Fatalf("seq = %d", m.Seq)
	}
	if len(m.Padding) != 56 {
		t.Fatalf("padding = %d bytes", len(m.Padding))
	}
	other, err := New(8, 56)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if bytes.Equal(m.Padding, other.Padding) {
		t.Fatal("padding not randomized")
	}
}

func TestNewZeroSize(t *testing.T) {
	m, err := New(1, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Padding != nil {
		t.Fatalf("unexpected padding: %v", m.Padding)
	}
}

func TestRTT(t *testing.T) {
	now := time.Now()
	m := Message{SentUnixNano: now.Add(-5 * time.Millisecond).UnixNano()}
	if got := m.RTT(now); got != 5*time.Millisecond {
		t.Fatalf("rtt = %v", got)
	}
}

func TestRoundtrip(t *testing.T) {
	cb, err := codec.CBOR()
	if err != nil {
		t.Fatalf("new cbor: %v", err)
	}
	for _, c := range []codec.Codec{cb, codec.JSON()} {
		in, err := New(42, 16)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		b, err := in.Encode(c)
		if err != nil {
			t.Fatalf("%s encode: %v", c.ContentType(), err)
		}
		out, err := Decode(c, b)
		if err != nil {
			t.Fatalf("%s decode: %v", c.ContentType(), err)
		}
		if out.Seq != in.Seq || out.SentUnixNano != in.SentUnixNano || !bytes.Equal(out.Padding, in.Padding) {
			t.Fatalf("%s roundtrip mismatch: %+v vs %+v", c.ContentType(), out, in)
		}
	}
}
