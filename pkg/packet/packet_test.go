package packet

import (
	"bytes"
	"testing"
)

func TestNewCopies(t *testing.T) {
	src := []byte("payload")
	p := New(src)
	src[0] = 'X'
	if !bytes.Equal(p.Bytes(), []byte("payload")) {
		t.Fatalf("New did not copy: %q", p.Bytes())
	}
	if p.Len() != 7 {
		t.Fatalf("Len = %d, want 7", p.Len())
	}
}

func TestFromBytesAliases(t *testing.T) {
	buf := []byte("alias")
	p := FromBytes(buf)
	buf[0] = 'X'
	if p.Bytes()[0] != 'X' {
		t.Fatalf("FromBytes copied; want aliasing")
	}
}

func TestClone(t *testing.T) {
	p := New([]byte("orig"))
	c := p.Clone()
	p.Bytes()[0] = 'X'
	if !bytes.Equal(c.Bytes(), []byte("orig")) {
		t.Fatalf("Clone shares storage: %q", c.Bytes())
	}
}

func TestEmpty(t *testing.T) {
	p := New(nil)
	if p.Len() != 0 {
		t.Fatalf("empty packet Len = %d", p.Len())
	}
	if len(FromBytes(nil).Bytes()) != 0 {
		t.Fatalf("nil FromBytes not empty")
	}
}
