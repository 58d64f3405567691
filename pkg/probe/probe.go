// Package probe defines the echo probe message exchanged by weftmesh-ping
// and anything echoing packets back.
package probe

import (
	"crypto/rand"
	"io"
	"time"

	"weftmesh/pkg/codec"
)

// Message is one echo probe. Padding stretches the payload to the configured
// size so round trips reflect realistic packets.
type Message struct {
	Seq          uint64 `json:"seq" cbor:"1,keyasint"`
	SentUnixNano int64  `json:"sent_unix_nano" cbor:"2,keyasint"`
	Padding      []byte `json:"padding,omitempty" cbor:"3,keyasint,omitempty"`
}

// New builds a probe stamped with the current time and padded with
// payloadLen random bytes.
func New(seq uint64, payloadLen int) (*Message, error) {
	m := &Message{Seq: seq, SentUnixNano: time.Now().UnixNano()}
	if payloadLen > 0 {
		m.Padding = make([]byte, payloadLen)
		if _, err := io.ReadFull(rand.Reader, m.Padding); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RTT reports the round trip time of an echoed probe observed at now.
func (m *Message) RTT(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, m.SentUnixNano))
}

// Encode marshals the probe with the given codec.
func (m *Message) Encode(c codec.Codec) ([]byte, error) {
	return c.Marshal(m)
}

// Decode unmarshals an echoed probe.
func Decode(c codec.Codec, b []byte) (*Message, error) {
	var m Message
	if err := c.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
