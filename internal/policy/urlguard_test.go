package policy

import (
	"context"
	"errors"
	"net"
	"testing"
)

type staticResolver map[string][]string

func (r staticResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	ips, ok := r[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	out := make([]net.IPAddr, 0, len(ips))
	for _, ip := range ips {
		out = append(out, net.IPAddr{IP: net.ParseIP(ip)})
	}
	return out, nil
}

func TestURLGuardSchemes(t *testing.T) {
	t.Parallel()
	g := NewURLGuardWithResolver(staticResolver{"example.com": {"93.184.216.34"}})
	ctx := context.Background()

	if err := g.Validate(ctx, "https://example.com/page"); err != nil {
		t.Fatalf("https url rejected: %v", err)
	}
	for _, raw := range []string{
		"http://example.com/",
		"file:///etc/passwd",
		"ftp://example.com/",
		"https://",
	} {
		if err := g.Validate(ctx, raw); err == nil {
			t.Fatalf("Validate(%q) = nil, want error", raw)
		}
	}
}

func TestURLGuardBlockedAddresses(t *testing.T) {
	t.Parallel()
	g := NewURLGuardWithResolver(staticResolver{})
	ctx := context.Background()

	blocked := []string{
		"https://localhost/admin",
		"https://localhost.localdomain/",
		"https://127.0.0.1/",
		"https://10.1.2.3/",
		"https://172.16.0.1/",
		"https://172.31.255.255/",
		"https://192.168.1.1/router",
		"https://169.254.169.254/latest/meta-data/",
		"https://0.0.0.0/",
		"https://[::1]/",
		"https://[fc00::1]/",
		"https://[fe80::1]/",
	}
	for _, raw := range blocked {
		if err := g.Validate(ctx, raw); err == nil {
			t.Fatalf("Validate(%q) = nil, want blocked", raw)
		}
	}

	if err := g.Validate(ctx, "https://172.32.0.1/"); err != nil {
		t.Fatalf("address outside 172.16/12 rejected: %v", err)
	}
	if err := g.Validate(ctx, "https://8.8.8.8/"); err != nil {
		t.Fatalf("public ip rejected: %v", err)
	}
}

func TestURLGuardResolvesHostnames(t *testing.T) {
	t.Parallel()
	g := NewURLGuardWithResolver(staticResolver{
		"public.example.com":  {"93.184.216.34"},
		"sneaky.example.com":  {"93.184.216.34", "127.0.0.1"},
		"private.example.com": {"10.0.0.5"},
		"mapped.example.com":  {"::ffff:192.168.1.1"},
	})
	ctx := context.Background()

	if err := g.Validate(ctx, "https://public.example.com/"); err != nil {
		t.Fatalf("public hostname rejected: %v", err)
	}
	// One bad address out of many is still a rebinding hazard.
	for _, host := range []string{"sneaky.example.com", "private.example.com", "mapped.example.com"} {
		if err := g.Validate(ctx, "https://"+host+"/"); err == nil {
			t.Fatalf("Validate(%s) = nil, want blocked", host)
		}
	}
	if err := g.Validate(ctx, "https://unknown.example.com/"); err == nil {
		t.Fatalf("unresolvable hostname accepted")
	}
}
