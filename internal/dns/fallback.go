// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dns

import (
	"context"
	"net/netip"
	"strings"
)

// FallbackResolver answers from primary, re-resolving against secondary
// when the primary result looks poisoned (falls inside a configured
// suspect CIDR) or the queried domain is explicitly routed to the
// fallback, or when primary itself errors.
type FallbackResolver struct {
	primary   Resolver
	secondary Resolver

	suspectPrefixes []netip.Prefix
	fallbackDomains []string
}

// FallbackConfig configures when FallbackResolver distrusts primary.
type FallbackConfig struct {
	// SuspectPrefixes: if any address in the primary answer falls in one
	// of these prefixes, the answer is considered poisoned (a common
	// signature of DNS injection returning a walled-garden IP).
	SuspectPrefixes []netip.Prefix
	// FallbackDomains: domains answered by secondary unconditionally,
	// bypassing primary entirely. An entry matches the name itself and its
	// subdomains; a dot-prefixed entry matches its subdomains only.
	FallbackDomains []string
}

// NewFallbackResolver builds a FallbackResolver.
func NewFallbackResolver(primary, secondary Resolver, cfg FallbackConfig) *FallbackResolver {
	return &FallbackResolver{
		primary:         primary,
		secondary:       secondary,
		suspectPrefixes: cfg.SuspectPrefixes,
		fallbackDomains: cfg.FallbackDomains,
	}
}

func (f *FallbackResolver) domainRoutedToFallback(host string) bool {
	host = strings.ToLower(host)
	for _, d := range f.fallbackDomains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+strings.TrimPrefix(d, ".")) {
			return true
		}
	}
	return false
}

func (f *FallbackResolver) looksSuspect(addrs []netip.Addr) bool {
	for _, a := range addrs {
		for _, prefix := range f.suspectPrefixes {
			if prefix.Contains(a) {
				return true
			}
		}
	}
	return false
}

// Resolve implements Resolver.
func (f *FallbackResolver) Resolve(ctx context.Context, host, network string) ([]netip.Addr, error) {
	if f.domainRoutedToFallback(host) {
		return f.secondary.Resolve(ctx, host, network)
	}

	addrs, err := f.primary.Resolve(ctx, host, network)
	if err != nil || f.looksSuspect(addrs) {
		return f.secondary.Resolve(ctx, host, network)
	}
	return addrs, nil
}
