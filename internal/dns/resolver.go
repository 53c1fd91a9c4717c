// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dns implements the caching DNS resolver tower: CachedResolver ->
// FakeIpResolver (optional) -> HostsResolver -> one of
// {RaceResolver, FallbackResolver, SplitResolver, SystemResolver} -> a
// per-server leaf resolver. Grounded on the teacher's
// internal/services/dns/service.go, which wires github.com/miekg/dns
// directly for message construction/forwarding and shards its response
// cache by fnv hash; this package keeps both idioms and generalizes the
// single service into a composable tower of Resolver wrappers.
package dns

import (
	"context"
	"fmt"
	"net/netip"
)

// Resolver is the one operation every tower layer implements.
type Resolver interface {
	// Resolve returns the IPs for host. network selects "ip4", "ip6", or
	// "" for either family.
	Resolve(ctx context.Context, host, network string) ([]netip.Addr, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(ctx context.Context, host, network string) ([]netip.Addr, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, host, network string) ([]netip.Addr, error) {
	return f(ctx, host, network)
}

// ErrNoRecords is returned by a leaf resolver when the upstream answered
// with no addresses of the requested family (a DNS negative response).
var ErrNoRecords = fmt.Errorf("dns: no records")

func filterFamily(addrs []netip.Addr, network string) []netip.Addr {
	if network == "" {
		return addrs
	}
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		switch network {
		case "ip4":
			if a.Is4() {
				out = append(out, a)
			}
		case "ip6":
			if a.Is6() {
				out = append(out, a)
			}
		}
	}
	return out
}
