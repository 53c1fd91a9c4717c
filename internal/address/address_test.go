// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package address

import (
	"net/netip"
	"testing"
)

func TestParseAddressIP(t *testing.T) {
	a, err := ParseAddress("1.2.3.4:443")
	if err != nil {
		t.Fatal(err)
	}
	if !a.IsIP() {
		t.Fatal("expected IP address")
	}
	if a.Port() != 443 {
		t.Fatalf("got port %d", a.Port())
	}
	if a.String() != "1.2.3.4:443" {
		t.Fatalf("got %s", a.String())
	}
}

func TestParseAddressDomain(t *testing.T) {
	a, err := ParseAddress("example.com:80")
	if err != nil {
		t.Fatal(err)
	}
	if !a.IsDomain() {
		t.Fatal("expected domain address")
	}
	if a.Domain() != "example.com" {
		t.Fatalf("got %s", a.Domain())
	}
}

func TestFromDomainRejectsEmpty(t *testing.T) {
	if _, err := FromDomain("", 80); err == nil {
		t.Fatal("expected error for empty domain")
	}
	if _, err := FromDomain("a\x00b", 80); err == nil {
		t.Fatal("expected error for NUL byte")
	}
}

func TestWithDomainAndIP(t *testing.T) {
	a := FromIP(netip.MustParseAddr("198.18.0.1"), 443)
	d := a.WithDomain("example.com")
	if !d.IsDomain() || d.Port() != 443 {
		t.Fatal("WithDomain should preserve port and flip variant")
	}

	back := d.WithIP(netip.MustParseAddr("10.0.0.1"))
	if !back.IsIP() || back.Port() != 443 {
		t.Fatal("WithIP should preserve port and flip variant")
	}
}

func TestSessionSniffOverrides(t *testing.T) {
	ip := FromIP(netip.MustParseAddr("198.18.0.5"), 443)

	full := NewSession(ip, "tun-in", TCP)
	full = full.WithSniffedDomain("example.com", "tls")
	if !full.Target.IsDomain() || full.Target.Domain() != "example.com" {
		t.Fatalf("full override should rewrite target, got %+v", full.Target)
	}
	if full.RoutingAddress().Domain() != "example.com" {
		t.Fatal("routing address should follow target under full override")
	}

	routeOnly := NewSession(ip, "tun-in", TCP)
	routeOnly.SniffOverride = OverrideRouteOnly
	routeOnly = routeOnly.WithSniffedDomain("example.com", "tls")
	if !routeOnly.Target.IsIP() {
		t.Fatal("route-only override must not touch the connect target")
	}
	if routeOnly.RoutingAddress().Domain() != "example.com" {
		t.Fatal("route-only override must still update the routing address")
	}

	portOnly := NewSession(ip, "tun-in", TCP)
	portOnly.SniffOverride = OverridePortOnly
	portOnly = portOnly.WithSniffedDomain("example.com", "tls")
	if !portOnly.Target.IsIP() || !portOnly.RoutingAddress().IsIP() {
		t.Fatal("port-only override must not touch host at all")
	}
	if portOnly.DetectedProtocol != "tls" {
		t.Fatal("port-only override should still record detected protocol")
	}
}
