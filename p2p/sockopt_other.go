//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package p2p

import "syscall"

// shareDiscoveryPort is a no-op where SO_REUSEPORT is unavailable; the discovery
// port is then bound exclusively.
func shareDiscoveryPort(network, address string, c syscall.RawConn) error {
	return nil
}
