// Package policy enforces the outbound network rules tools must obey
// before touching any URL.
package policy

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// blockedPrefixes are address ranges no tool may reach: loopback,
// RFC 1918, link-local (cloud metadata lives there) and their IPv6
// counterparts.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

var blockedHostnames = map[string]bool{
	"localhost":             true,
	"localhost.localdomain": true,
}

// Resolver lets tests substitute DNS resolution.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// URLGuard validates outbound URLs: HTTPS only, no blocked hostnames,
// and every resolved address outside the blocked ranges.
type URLGuard struct {
	resolver Resolver
}

func NewURLGuard() *URLGuard {
	return &URLGuard{resolver: net.DefaultResolver}
}

// NewURLGuardWithResolver is for tests.
func NewURLGuardWithResolver(r Resolver) *URLGuard {
	return &URLGuard{resolver: r}
}

// Validate returns nil only when rawURL is safe to fetch. An unresolvable
// hostname is treated as blocked.
func (g *URLGuard) Validate(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("only https urls are allowed")
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("invalid url: no hostname")
	}
	if blockedHostnames[strings.ToLower(host)] {
		return fmt.Errorf("blocked hostname: %s", host)
	}

	// Literal IPs skip DNS but still hit the range check.
	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("blocked ip address: %s", host)
		}
		return nil
	}

	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("dns resolution failed for %s: %w", host, err)
	}
	for _, a := range addrs {
		addr, ok := netip.AddrFromSlice(a.IP)
		if !ok || isBlockedAddr(addr.Unmap()) {
			return fmt.Errorf("blocked ip address for hostname: %s", host)
		}
	}
	return nil
}

func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
