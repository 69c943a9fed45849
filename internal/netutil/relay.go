package netutil

import (
	"net"
	"strings"
)

// Interface is the part of a network interface the relay heuristic looks at.
type Interface struct {
	Name  string
	Up    bool
	Loop  bool
	Addrs []net.IP
}

// cgnatBlock is 100.64.0.0/10, used by Carrier Grade NAT, Cloudflare WARP and
// Tailscale. Direct paths from inside it usually fail.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var vpnNameHints = []string{"tun", "tap", "wg", "ppp", "warp"}

// ShouldForceRelay checks if the system is likely behind a restrictive VPN or
// CGNAT and returns true if media should go through TURN.
func ShouldForceRelay() bool {
	return shouldForceRelay(systemInterfaces())
}

func shouldForceRelay(ifaces []Interface) bool {
	for _, iface := range ifaces {
		if !iface.Up || iface.Loop {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, hint := range vpnNameHints {
			if strings.Contains(name, hint) {
				return true
			}
		}

		for _, ip := range iface.Addrs {
			if cgnatBlock.Contains(ip) {
				return true
			}
		}
	}
	return false
}

func systemInterfaces() []Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		entry := Interface{
			Name: iface.Name,
			Up:   iface.Flags&net.FlagUp != 0,
			Loop: iface.Flags&net.FlagLoopback != 0,
		}

		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					entry.Addrs = append(entry.Addrs, v.IP)
				case *net.IPAddr:
					entry.Addrs = append(entry.Addrs, v.IP)
				}
			}
		}
		out = append(out, entry)
	}
	return out
}
