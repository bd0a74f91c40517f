//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package p2p

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// shareDiscoveryPort sets SO_REUSEADDR and SO_REUSEPORT. Broadcast datagrams are
// delivered to every socket sharing the port.
func shareDiscoveryPort(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr == nil {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}
