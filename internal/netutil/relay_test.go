package netutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldForceRelay(t *testing.T) {
	tests := []struct {
		name   string
		ifaces []Interface
		want   bool
	}{
		{"plain lan", []Interface{{Name: "eth0", Up: true, Addrs: []net.IP{net.ParseIP("192.168.1.20")}}}, false},
		{"wireguard", []Interface{{Name: "wg0", Up: true}}, true},
		{"down vpn ignored", []Interface{{Name: "tun0"}}, false},
		{"loopback ignored", []Interface{{Name: "lo", Up: true, Loop: true, Addrs: []net.IP{net.ParseIP("100.64.0.1")}}}, false},
		{"cgnat address", []Interface{{Name: "eth0", Up: true, Addrs: []net.IP{net.ParseIP("100.100.3.4")}}}, true},
		{"just outside cgnat", []Interface{{Name: "eth0", Up: true, Addrs: []net.IP{net.ParseIP("100.128.0.1")}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldForceRelay(tt.ifaces))
		})
	}
}
