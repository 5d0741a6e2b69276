//go:build linux

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setCongestionControl switches the socket to the named congestion
// control algorithm (e.g. "bbr"). The kernel module must be loaded.
func setCongestionControl(raw syscall.RawConn, algorithm string) error {
	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = unix.SetsockoptString(int(fd), unix.IPPROTO_TCP, unix.TCP_CONGESTION, algorithm)
	}); err != nil {
		return err
	}
	return serr
}
