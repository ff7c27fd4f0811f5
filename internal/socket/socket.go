// Package socket binds the agent's two listening sockets with the
// socket options spec.md §4.3/§4.4 require: SO_REUSEADDR on both, plus
// SO_BROADCAST on the UDP control socket so discovery/ack replies can be
// sent from the same file descriptor.
//
// Grounded on the teacher's platform-specific setSocketOptions pattern
// (internal/transport, Windows-only in beacon), generalized here to the
// Unix socket-option set this protocol actually needs via
// golang.org/x/sys/unix, with a no-op Windows fallback (SO_REUSEPORT has
// no Windows equivalent; SO_REUSEADDR is set by the OS default there).
package socket

import (
	"context"
	"fmt"
	"net"
)

// ListenUDP binds a UDP control socket on addr (host:port) with
// SO_REUSEADDR and SO_BROADCAST enabled, per spec.md §4.3.
func ListenUDP(addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: controlUDP}

	pc, err := lc.ListenPacket(context.Background(), "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("socket: bind udp %s: %w", addr, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("socket: unexpected packet conn type %T", pc)
	}

	if err := conn.SetReadBuffer(1024); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socket: set read buffer: %w", err)
	}

	return conn, nil
}

// ListenTCP binds a TCP data socket on addr (host:port) with
// SO_REUSEADDR enabled, per spec.md §4.4.
func ListenTCP(addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: controlTCP}

	ln, err := lc.Listen(context.Background(), "tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("socket: bind tcp %s: %w", addr, err)
	}
	return ln, nil
}
