// Package tunnel defines the packet-oriented tunnel contract shared by all
// transport backends and the scheme registry that selects a backend at
// construction time.
//
// A Tunnel moves opaque packets over exactly one transport connection.
// Listeners produce tunnels from inbound connections; Connectors produce
// one tunnel per Connect call. Backends register their URL schemes in
// init, so enabling a backend is a blank import:
//
//	import _ "weftmesh/pkg/tunnel/ws"
//
// Recv returns io.EOF once the peer has closed gracefully; every other
// failure is reported through the error taxonomy in errors.go.
package tunnel
