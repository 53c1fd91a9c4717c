// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dns

import (
	"context"
	"net/netip"
	"strings"
)

// HostsResolver answers from a static case-folded host table before
// delegating to inner, the hosts-file override layer of the tower.
type HostsResolver struct {
	inner   Resolver
	entries map[string][]netip.Addr
}

// NewHostsResolver builds a HostsResolver from a host->addrs table. Keys
// are case-folded at construction time.
func NewHostsResolver(inner Resolver, table map[string][]netip.Addr) *HostsResolver {
	h := &HostsResolver{inner: inner, entries: make(map[string][]netip.Addr, len(table))}
	for host, addrs := range table {
		h.entries[strings.ToLower(host)] = addrs
	}
	return h
}

// Resolve implements Resolver.
func (h *HostsResolver) Resolve(ctx context.Context, host, network string) ([]netip.Addr, error) {
	if addrs, ok := h.entries[strings.ToLower(host)]; ok {
		filtered := filterFamily(addrs, network)
		if len(filtered) == 0 {
			return nil, ErrNoRecords
		}
		return filtered, nil
	}
	return h.inner.Resolve(ctx, host, network)
}
