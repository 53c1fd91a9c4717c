// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dns

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// UDPLeaf is a single-upstream-server leaf resolver speaking plain DNS
// over UDP, grounded on the teacher's direct use of miekg/dns for message
// construction (`dns.Msg`, `dns.Client`) in `service.go`'s forward path.
type UDPLeaf struct {
	server string // "host:port"
	client *dns.Client
}

// NewUDPLeaf builds a leaf resolver for the given upstream server.
func NewUDPLeaf(server string) *UDPLeaf {
	return &UDPLeaf{server: server, client: &dns.Client{Net: "udp"}}
}

// Resolve implements Resolver.
func (u *UDPLeaf) Resolve(ctx context.Context, host, network string) ([]netip.Addr, error) {
	var addrs []netip.Addr
	if network != "ip6" {
		a, err := u.query(ctx, host, dns.TypeA)
		if err == nil {
			addrs = append(addrs, a...)
		}
	}
	if network != "ip4" {
		a, err := u.query(ctx, host, dns.TypeAAAA)
		if err == nil {
			addrs = append(addrs, a...)
		}
	}
	if len(addrs) == 0 {
		return nil, ErrNoRecords
	}
	return addrs, nil
}

func (u *UDPLeaf) query(ctx context.Context, host string, qtype uint16) ([]netip.Addr, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	resp, _, err := u.client.ExchangeContext(ctx, msg, u.server)
	if err != nil {
		return nil, fmt.Errorf("dns: exchange with %s: %w", u.server, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns: upstream %s returned rcode %d", u.server, resp.Rcode)
	}

	var out []netip.Addr
	for _, rr := range resp.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			if ip, ok := netip.AddrFromSlice(rec.A.To4()); ok {
				out = append(out, ip)
			}
		case *dns.AAAA:
			if ip, ok := netip.AddrFromSlice(rec.AAAA.To16()); ok {
				out = append(out, ip)
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrNoRecords
	}
	return out, nil
}

// ResolveTTL implements TTLResolver, letting CachedResolver size its entry
// off the real upstream TTL instead of a fixed default.
func (u *UDPLeaf) ResolveTTL(ctx context.Context, host, network string) ([]netip.Addr, time.Duration, error) {
	var addrs []netip.Addr
	minTTL := ^uint32(0)
	found := false

	if network != "ip6" {
		if a, ttl, err := u.TTLOf(ctx, host, dns.TypeA); err == nil {
			addrs = append(addrs, a...)
			found = true
			if ttl < minTTL {
				minTTL = ttl
			}
		}
	}
	if network != "ip4" {
		if a, ttl, err := u.TTLOf(ctx, host, dns.TypeAAAA); err == nil {
			addrs = append(addrs, a...)
			found = true
			if ttl < minTTL {
				minTTL = ttl
			}
		}
	}
	if !found {
		return nil, 0, ErrNoRecords
	}
	return addrs, time.Duration(minTTL) * time.Second, nil
}

// TTLOf runs a query and returns both the addresses and the minimum TTL
// across answer records, used by CachedResolver to size its cache entry.
func (u *UDPLeaf) TTLOf(ctx context.Context, host string, qtype uint16) ([]netip.Addr, uint32, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	resp, _, err := u.client.ExchangeContext(ctx, msg, u.server)
	if err != nil {
		return nil, 0, fmt.Errorf("dns: exchange with %s: %w", u.server, err)
	}
	if resp.Rcode != dns.RcodeSuccess || len(resp.Answer) == 0 {
		return nil, 0, ErrNoRecords
	}

	var out []netip.Addr
	minTTL := ^uint32(0)
	for _, rr := range resp.Answer {
		if rr.Header().Ttl < minTTL {
			minTTL = rr.Header().Ttl
		}
		switch rec := rr.(type) {
		case *dns.A:
			if ip, ok := netip.AddrFromSlice(rec.A.To4()); ok {
				out = append(out, ip)
			}
		case *dns.AAAA:
			if ip, ok := netip.AddrFromSlice(rec.AAAA.To16()); ok {
				out = append(out, ip)
			}
		}
	}
	if len(out) == 0 {
		return nil, 0, ErrNoRecords
	}
	return out, minTTL, nil
}
