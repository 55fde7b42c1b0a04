package devices

import (
	"fmt"
	"net/netip"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// NetInterface is a host network interface with its IPv4 prefixes.
type NetInterface struct {
	Name     string
	Up       bool
	Loopback bool
	IPv4     []netip.Prefix
}

// SystemInterfaces lists host interfaces through gopsutil.
type SystemInterfaces struct{}

// Interfaces returns all interfaces with their IPv4 addresses.
func (SystemInterfaces) Interfaces() ([]NetInterface, error) {
	stats, err := psnet.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	out := make([]NetInterface, 0, len(stats))
	for _, st := range stats {
		iface := NetInterface{Name: st.Name}
		for _, flag := range st.Flags {
			switch flag {
			case "up":
				iface.Up = true
			case "loopback":
				iface.Loopback = true
			}
		}
		for _, a := range st.Addrs {
			prefix, err := netip.ParsePrefix(a.Addr)
			if err != nil {
				continue
			}
			if prefix.Addr().Is4() {
				iface.IPv4 = append(iface.IPv4, prefix)
			}
		}
		out = append(out, iface)
	}
	return out, nil
}
