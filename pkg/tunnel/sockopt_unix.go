//go:build !windows

package tunnel

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// ControlReuseAddr is a net.ListenConfig Control hook that sets SO_REUSEADDR
// before bind, so listeners can rebind a recently used address.
func ControlReuseAddr(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}
