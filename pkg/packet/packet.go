// Package packet defines the opaque unit of payload data moved through
// tunnels. The tunnel layer never inspects packet contents; framing and
// payload semantics belong to the layers above and below it.
package packet

// Packet holds one payload buffer.
type Packet struct {
	buf []byte
}

// New copies payload into a fresh Packet.
func New(payload []byte) *Packet {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return &Packet{buf: buf}
}

// FromBytes wraps buf without copying. The caller yields ownership of buf
// and must not modify it afterwards.
func FromBytes(buf []byte) *Packet { return &Packet{buf: buf} }

// Bytes returns the payload. The Packet retains ownership; callers that
// need to hold the bytes past the Packet's lifetime should Clone first.
func (p *Packet) Bytes() []byte { return p.buf }

// Len returns the payload length in bytes.
func (p *Packet) Len() int { return len(p.buf) }

// Clone returns an independent copy of the packet.
func (p *Packet) Clone() *Packet { return New(p.buf) }
