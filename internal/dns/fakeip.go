// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dns

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"sync"
)

// FakeIpPool hands out synthetic addresses from a CIDR range and maintains
// the two bijections (domain->ip, ip->domain) the dispatcher needs to
// recover the original domain from a fake-IP'd connection attempt.
// Allocation is a monotonic offset modulo the pool size; a collision on
// wraparound evicts the oldest mapping holding that address, per the
// invariant that the pool never blocks once warmed up.
type FakeIpPool struct {
	mu sync.Mutex

	base   netip.Addr
	size   uint64 // number of addresses in the pool
	offset uint64 // next allocation offset, monotonically increasing

	domainToIP map[string]netip.Addr
	ipToDomain map[netip.Addr]string
	order      []netip.Addr // allocation order, oldest first, for eviction
}

// NewFakeIpPool builds a pool over prefix (e.g. 198.18.0.0/15).
func NewFakeIpPool(prefix netip.Prefix) (*FakeIpPool, error) {
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("fakeip: only IPv4 pools are supported, got %s", prefix)
	}
	bits := prefix.Addr().BitLen() - prefix.Bits()
	if bits <= 0 || bits > 24 {
		return nil, fmt.Errorf("fakeip: prefix %s has an unusable host range", prefix)
	}
	size := uint64(1) << uint(bits)
	return &FakeIpPool{
		base:       prefix.Masked().Addr(),
		size:       size,
		domainToIP: make(map[string]netip.Addr),
		ipToDomain: make(map[netip.Addr]string),
	}, nil
}

func addOffset(base netip.Addr, n uint64) netip.Addr {
	b := base.As4()
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	v += uint32(n)
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// Allocate returns the fake IP for domain, reusing an existing mapping if
// one exists, otherwise taking the next offset (wrapping and evicting the
// oldest holder on collision).
func (p *FakeIpPool) Allocate(domain string) netip.Addr {
	domain = strings.ToLower(domain)

	p.mu.Lock()
	defer p.mu.Unlock()

	if ip, ok := p.domainToIP[domain]; ok {
		return ip
	}

	offset := p.offset % p.size
	p.offset++
	ip := addOffset(p.base, offset)

	if prevDomain, collided := p.ipToDomain[ip]; collided {
		delete(p.domainToIP, prevDomain)
		delete(p.ipToDomain, ip)
	}

	p.domainToIP[domain] = ip
	p.ipToDomain[ip] = domain
	p.order = append(p.order, ip)
	return ip
}

// Lookup reverses a previously-allocated fake IP back to its domain.
func (p *FakeIpPool) Lookup(ip netip.Addr) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	domain, ok := p.ipToDomain[ip]
	return domain, ok
}

// Contains reports whether ip falls within the pool's address range.
func (p *FakeIpPool) Contains(ip netip.Addr) bool {
	if !ip.Is4() {
		return false
	}
	b := ip.As4()
	base := p.base.As4()
	v := uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3])
	bv := uint64(base[0])<<24 | uint64(base[1])<<16 | uint64(base[2])<<8 | uint64(base[3])
	return v >= bv && v < bv+p.size
}

// FakeIpResolver synthesizes addresses from a FakeIpPool for any domain
// that doesn't match an exclude suffix, delegating excluded domains to
// inner. This lets the TUN stack route purely on a dense, recoverable
// address space instead of triggering a real DNS round-trip per flow.
type FakeIpResolver struct {
	pool            *FakeIpPool
	inner           Resolver
	excludeSuffixes []string
}

// NewFakeIpResolver builds a FakeIpResolver. Domains matching an exclude
// suffix bypass the pool and resolve through inner as usual.
func NewFakeIpResolver(pool *FakeIpPool, inner Resolver, excludeSuffixes []string) *FakeIpResolver {
	return &FakeIpResolver{pool: pool, inner: inner, excludeSuffixes: excludeSuffixes}
}

func (f *FakeIpResolver) excluded(host string) bool {
	return matchesSuffix(host, f.excludeSuffixes)
}

// Resolve implements Resolver.
func (f *FakeIpResolver) Resolve(ctx context.Context, host, network string) ([]netip.Addr, error) {
	if network == "ip6" || f.excluded(host) {
		return f.inner.Resolve(ctx, host, network)
	}
	return []netip.Addr{f.pool.Allocate(host)}, nil
}
