//go:build windows

package socket

import "syscall"

// controlUDP is a no-op on Windows: SO_REUSEADDR is the bind default and
// SO_BROADCAST is implied for UDP sockets without a connected peer, per
// the teacher's own Windows test (internal/transport/socket_windows_test.go)
// which documents SO_REUSEPORT as having no Windows equivalent.
func controlUDP(_, _ string, c syscall.RawConn) error {
	return nil
}

// controlTCP is a no-op on Windows for the same reason.
func controlTCP(_, _ string, c syscall.RawConn) error {
	return nil
}
