// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dns

import (
	"context"
	"net"
	"net/netip"
)

// SystemResolver defers to the operating system's own resolver
// (nsswitch/getaddrinfo via net.Resolver), the leaf used when no explicit
// upstream server list is configured.
type SystemResolver struct {
	resolver *net.Resolver
}

// NewSystemResolver builds a SystemResolver over net.DefaultResolver.
func NewSystemResolver() *SystemResolver {
	return &SystemResolver{resolver: net.DefaultResolver}
}

// Resolve implements Resolver.
func (s *SystemResolver) Resolve(ctx context.Context, host, network string) ([]netip.Addr, error) {
	ipNetwork := "ip"
	switch network {
	case "ip4":
		ipNetwork = "ip4"
	case "ip6":
		ipNetwork = "ip6"
	}

	ips, err := s.resolver.LookupNetIP(ctx, ipNetwork, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, ErrNoRecords
	}
	return ips, nil
}
