//go:build !windows

package socket

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlUDP sets SO_REUSEADDR and SO_BROADCAST on the raw file
// descriptor before bind(2), matching the teacher's
// internal/transport.setSocketOptions pattern generalized from the
// Windows-only branch to the Unix socket-option set this protocol needs.
func controlUDP(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// controlTCP sets SO_REUSEADDR on the raw file descriptor before bind(2).
func controlTCP(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
