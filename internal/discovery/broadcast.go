package discovery

import (
	"fmt"
	"net"
)

// BroadcastTargets returns the addresses advertisements are sent to for a
// given bind address. The wildcard address maps to the limited broadcast
// address. Any other address must belong to a local interface, whose IPv4
// subnet broadcast addresses are used, falling back to the limited broadcast
// address when the interface has none.
func BroadcastTargets(bindAddress string) ([]net.IP, error) {
	ip := net.ParseIP(bindAddress)
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBindAddress, bindAddress)
	}
	if ip.IsUnspecified() {
		return []net.IP{net.IPv4bcast}, nil
	}

	iface, err := interfaceByIP(ip)
	if err != nil {
		return nil, err
	}

	var targets []net.IP
	if iface.Flags&net.FlagBroadcast != 0 {
		addrs, err := iface.Addrs()
		if err != nil {
			return nil, fmt.Errorf("listing addresses of %s: %w", iface.Name, err)
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if b := getBroadcastIP(ipNet); b != nil && !containsIP(targets, b) {
				targets = append(targets, b)
			}
		}
	}
	if len(targets) == 0 {
		targets = append(targets, net.IPv4bcast)
	}
	return targets, nil
}

func interfaceByIP(ip net.IP) (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing network interfaces: %w", err)
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.Equal(ip) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no network interface owns %s", ErrInvalidBindAddress, ip)
}

// getBroadcastIP returns the subnet broadcast address of an IPv4 network, or
// nil for IPv6.
func getBroadcastIP(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	if ip == nil {
		return nil
	}
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	broadcastIP := make(net.IP, len(ip))
	for i := range ip {
		broadcastIP[i] = ip[i] | ^mask[i]
	}
	return broadcastIP
}

func containsIP(ips []net.IP, ip net.IP) bool {
	for _, candidate := range ips {
		if candidate.Equal(ip) {
			return true
		}
	}
	return false
}
