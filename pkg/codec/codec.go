// Package codec provides pluggable message encodings for payloads carried
// over tunnels.
package codec

// Codec marshals typed messages. Implementations should be deterministic and
// safe for cross-node exchange.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct{ byType map[string]Codec }

// NewRegistry constructs a registry preloaded with the codecs that need no
// initialization: JSON and Protobuf. CBOR has an error path and is added
// explicitly via Register(CBOR()).
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(Proto())
	return r
}

// Register adds a codec under its content type.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }

// ContentTypeOf maps a short encoding name, as used in configuration, to the
// registered content type. Unknown names map to the empty string.
func ContentTypeOf(name string) string {
	switch name {
	case "json":
		return "application/json"
	case "cbor":
		return "application/cbor"
	case "proto", "protobuf":
		return "application/x-protobuf"
	default:
		return ""
	}
}
