// Package netiface provides the one variation point spec.md keeps as an
// abstraction: resolving this host's local IP, broadcast IP, and
// interface name. Production code walks net.Interfaces(); tests supply a
// Resolver that returns fixed values.
package netiface

import (
	"errors"
	"net"
)

// Identity is the network-facing half of an agent identity (spec.md §3).
// The agent name is layered on top by the caller; this package only
// knows about addresses.
type Identity struct {
	LocalIP       net.IP
	BroadcastIP   net.IP
	InterfaceName string
}

// Resolver resolves the local network identity used to answer discovery
// requests and compose outbound messages.
type Resolver interface {
	Resolve() (Identity, error)
}

// ErrNoInterface is returned when no suitable non-loopback IPv4 interface
// can be found.
var ErrNoInterface = errors.New("netiface: no usable non-loopback IPv4 interface found")

// SystemResolver is the production Resolver: it picks the first
// non-loopback, up, broadcast-capable interface with an IPv4 address and
// derives its broadcast
// address from the interface's CIDR.
//
// Grounded on the teacher's getLocalIPv4()/InterfaceResolver pattern,
// generalized to also compute a broadcast address (beacon only ever
// needed a local address since mDNS relies on multicast).
type SystemResolver struct{}

// Resolve implements Resolver.
func (SystemResolver) Resolve() (Identity, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return Identity{}, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagBroadcast == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}

			return Identity{
				LocalIP:       ip4,
				BroadcastIP:   broadcastAddr(ip4, ipnet.Mask),
				InterfaceName: iface.Name,
			}, nil
		}
	}

	return Identity{}, ErrNoInterface
}

// broadcastAddr computes the directed broadcast address for ip/mask by
// setting every host bit to 1.
func broadcastAddr(ip net.IP, mask net.IPMask) net.IP {
	bcast := make(net.IP, len(ip))
	for i := range ip {
		m := byte(0xFF)
		if i < len(mask) {
			m = mask[i]
		}
		bcast[i] = ip[i] | ^m
	}
	return bcast
}

// Static is a fixed Resolver for tests and for environments where the
// interface enumeration capability is injected from outside (spec.md §1:
// "network interface enumeration assumed to be an injected capability").
type Static Identity

// Resolve implements Resolver.
func (s Static) Resolve() (Identity, error) {
	return Identity(s), nil
}
