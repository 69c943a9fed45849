package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// publicDNS are servers to be queried if a local lookup fails.
var publicDNS = []string{
	"1.1.1.1",                // Cloudflare
	"1.0.0.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"8.8.4.4",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.222.222",         // Cisco OpenDNS
	"208.67.220.220",         // Cisco OpenDNS
}

// HostLookup resolves a host through one resolver.
type HostLookup func(ctx context.Context, host string) ([]string, error)

// Resolver looks a host up with the system resolver first and races public DNS
// servers when that fails.
type Resolver struct {
	Local         HostLookup
	Public        []HostLookup
	LocalTimeout  time.Duration
	PublicTimeout time.Duration
}

// NewResolver returns a Resolver backed by the system and the public DNS list.
func NewResolver() *Resolver {
	public := make([]HostLookup, 0, len(publicDNS))
	for _, server := range publicDNS {
		public = append(public, serverLookup(server))
	}
	return &Resolver{
		Local:         (&net.Resolver{}).LookupHost,
		Public:        public,
		LocalTimeout:  time.Second,
		PublicTimeout: 2 * time.Second,
	}
}

// Lookup resolves host to a single address, preferring IPv4. Literal IPs are
// returned unchanged.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}

	// 1. Try Local/System DNS first
	localCtx, cancel := context.WithTimeout(ctx, r.LocalTimeout)
	ips, err := r.Local(localCtx, host)
	cancel()
	if ip, ok := pick(ips); err == nil && ok {
		return ip, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	// 2. Race the public servers
	return r.race(ctx, host)
}

func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	if len(r.Public) == 0 {
		return "", fmt.Errorf("failed to resolve %s: no fallback servers", host)
	}

	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, r.PublicTimeout)
	defer cancel()

	results := make(chan result, len(r.Public))
	for _, lookup := range r.Public {
		go func(lookup HostLookup) {
			ips, err := lookup(ctx, host)
			ip, ok := pick(ips)
			if err == nil && !ok {
				err = errors.New("no IPs returned")
			}
			results <- result{ip: ip, err: err}
		}(lookup)
	}

	failures := 0
	for range r.Public {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("DNS lookup for %s timed out during public DNS race", host)
		}
	}

	return "", fmt.Errorf("failed to resolve %s: all %d public DNS servers failed", host, failures)
}

// DialContext resolves addr's host with Lookup before dialing. It fits
// websocket.Dialer.NetDialContext.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func serverLookup(server string) HostLookup {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}
	return r.LookupHost
}

func pick(ips []string) (string, bool) {
	if len(ips) == 0 {
		return "", false
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, true
		}
	}
	return ips[0], true
}
