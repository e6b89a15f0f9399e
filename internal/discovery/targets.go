package discovery

import (
	"net"
	"strconv"
)

// BroadcastTargets returns the directed broadcast address of every up,
// broadcast-capable, non-loopback IPv4 interface plus 255.255.255.255, all on
// port.
func BroadcastTargets(port int) []*net.UDPAddr {
	seen := make(map[string]bool)
	var out []*net.UDPAddr
	add := func(ip net.IP) {
		if seen[ip.String()] {
			return
		}
		seen[ip.String()] = true
		out = append(out, &net.UDPAddr{IP: ip, Port: port})
	}

	ifaces, _ := net.Interfaces()
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 || ifi.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if bcast := directedBroadcast(ipnet); bcast != nil {
				add(bcast)
			}
		}
	}
	add(net.IPv4bcast)
	return out
}

// directedBroadcast returns the broadcast address of an IPv4 network, or nil.
func directedBroadcast(ipnet *net.IPNet) net.IP {
	ip := ipnet.IP.To4()
	if ip == nil || len(ipnet.Mask) != net.IPv4len {
		return nil
	}
	out := make(net.IP, net.IPv4len)
	for i := range ip {
		out[i] = ip[i] | ^ipnet.Mask[i]
	}
	return out
}

// resolveTargets turns configured host:port strings into UDP addresses. A
// target without a port gets the discovery port.
func resolveTargets(targets []string, port int) ([]*net.UDPAddr, error) {
	out := make([]*net.UDPAddr, 0, len(targets))
	for _, t := range targets {
		if _, _, err := net.SplitHostPort(t); err != nil {
			t = net.JoinHostPort(t, strconv.Itoa(port))
		}
		addr, err := net.ResolveUDPAddr("udp4", t)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
