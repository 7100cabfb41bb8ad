package client

import (
	"fmt"
	"net"
	"net/netip"
)

// GlobalUnicastAddrs returns the machine's global unicast IPv6 addresses.
// Interfaces that are down or loopback are skipped, as are link-local and
// IPv4 addresses.
func GlobalUnicastAddrs() ([]netip.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	var out []netip.Addr
	for _, i := range ifaces {
		if i.Flags&net.FlagUp == 0 {
			continue
		}
		if i.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := i.Addrs()
		if err != nil {
			continue
		}

		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			addr, ok := netip.AddrFromSlice(ipnet.IP)
			if !ok {
				continue
			}
			addr = addr.Unmap()
			if !addr.Is6() || addr.Is4In6() {
				continue
			}
			if !addr.IsGlobalUnicast() {
				continue
			}
			out = append(out, addr)
		}
	}

	return out, nil
}
