//go:build !windows

package winpipe

import (
	"errors"
	"net/url"

	"weftmesh/pkg/tunnel"
)

var errNotSupported = errors.New("winpipe tunnels are not supported on this platform")

func init() {
	tunnel.RegisterScheme("winpipe", tunnel.Backend{
		NewListener:  func(*url.URL) (tunnel.Listener, error) { return nil, errNotSupported },
		NewConnector: func(*url.URL) (tunnel.Connector, error) { return nil, errNotSupported },
	})
}
