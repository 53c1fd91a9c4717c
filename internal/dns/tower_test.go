// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dns

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"
)

func addrs(ss ...string) []netip.Addr {
	out := make([]netip.Addr, len(ss))
	for i, s := range ss {
		out[i] = netip.MustParseAddr(s)
	}
	return out
}

func TestHostsResolverOverridesBeforeDelegating(t *testing.T) {
	inner := ResolverFunc(func(ctx context.Context, host, network string) ([]netip.Addr, error) {
		t.Fatal("should not reach inner for a hosts-table hit")
		return nil, nil
	})
	h := NewHostsResolver(inner, map[string][]netip.Addr{
		"Router.Local": addrs("10.0.0.1"),
	})
	got, err := h.Resolve(context.Background(), "router.local", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].String() != "10.0.0.1" {
		t.Fatalf("unexpected %v", got)
	}
}

func TestHostsResolverFallsThroughOnMiss(t *testing.T) {
	called := false
	inner := ResolverFunc(func(ctx context.Context, host, network string) ([]netip.Addr, error) {
		called = true
		return addrs("1.1.1.1"), nil
	})
	h := NewHostsResolver(inner, map[string][]netip.Addr{})
	if _, err := h.Resolve(context.Background(), "example.com", ""); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("expected fall-through to inner resolver")
	}
}

func TestRaceResolverReturnsFirstSuccess(t *testing.T) {
	slow := ResolverFunc(func(ctx context.Context, host, network string) ([]netip.Addr, error) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
		}
		return addrs("9.9.9.9"), nil
	})
	fast := ResolverFunc(func(ctx context.Context, host, network string) ([]netip.Addr, error) {
		return addrs("8.8.8.8"), nil
	})
	r := NewRaceResolver(slow, fast)
	got, err := r.Resolve(context.Background(), "example.com", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].String() != "8.8.8.8" {
		t.Fatalf("expected fast answer, got %v", got)
	}
}

func TestRaceResolverAllFailReturnsLastError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRaceResolver(
		ResolverFunc(func(ctx context.Context, host, network string) ([]netip.Addr, error) { return nil, boom }),
		ResolverFunc(func(ctx context.Context, host, network string) ([]netip.Addr, error) { return nil, boom }),
	)
	_, err := r.Resolve(context.Background(), "example.com", "")
	if err == nil {
		t.Fatal("expected error when all inner resolvers fail")
	}
}

func TestFallbackResolverSwitchesOnSuspectAnswer(t *testing.T) {
	primary := ResolverFunc(func(ctx context.Context, host, network string) ([]netip.Addr, error) {
		return addrs("10.0.0.5"), nil
	})
	secondary := ResolverFunc(func(ctx context.Context, host, network string) ([]netip.Addr, error) {
		return addrs("203.0.113.9"), nil
	})
	f := NewFallbackResolver(primary, secondary, FallbackConfig{
		SuspectPrefixes: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")},
	})
	got, err := f.Resolve(context.Background(), "poisoned.example", "")
	if err != nil {
		t.Fatal(err)
	}
	if got[0].String() != "203.0.113.9" {
		t.Fatalf("expected fallback answer, got %v", got)
	}
}

func TestFallbackResolverRoutesConfiguredDomainDirectly(t *testing.T) {
	primaryCalled := false
	primary := ResolverFunc(func(ctx context.Context, host, network string) ([]netip.Addr, error) {
		primaryCalled = true
		return addrs("1.2.3.4"), nil
	})
	secondary := ResolverFunc(func(ctx context.Context, host, network string) ([]netip.Addr, error) {
		return addrs("5.6.7.8"), nil
	})
	f := NewFallbackResolver(primary, secondary, FallbackConfig{FallbackDomains: []string{"internal.example"}})
	got, err := f.Resolve(context.Background(), "host.internal.example", "")
	if err != nil {
		t.Fatal(err)
	}
	if primaryCalled {
		t.Fatal("expected primary to be bypassed for a routed domain")
	}
	if got[0].String() != "5.6.7.8" {
		t.Fatalf("unexpected %v", got)
	}
}

func TestSplitResolverDispatchesBySuffix(t *testing.T) {
	corp := ResolverFunc(func(ctx context.Context, host, network string) ([]netip.Addr, error) {
		return addrs("10.1.1.1"), nil
	})
	def := ResolverFunc(func(ctx context.Context, host, network string) ([]netip.Addr, error) {
		return addrs("1.1.1.1"), nil
	})
	s := NewSplitResolver(def, SplitRoute{Suffixes: []string{"corp.internal"}, Resolver: corp})

	got, err := s.Resolve(context.Background(), "db.corp.internal", "")
	if err != nil {
		t.Fatal(err)
	}
	if got[0].String() != "10.1.1.1" {
		t.Fatalf("expected corp route, got %v", got)
	}

	got, err = s.Resolve(context.Background(), "example.com", "")
	if err != nil {
		t.Fatal(err)
	}
	if got[0].String() != "1.1.1.1" {
		t.Fatalf("expected default route, got %v", got)
	}
}

func TestFakeIpPoolAllocateIsStableAndReversible(t *testing.T) {
	pool, err := NewFakeIpPool(netip.MustParsePrefix("198.18.0.0/24"))
	if err != nil {
		t.Fatal(err)
	}
	ip1 := pool.Allocate("example.com")
	ip2 := pool.Allocate("example.com")
	if ip1 != ip2 {
		t.Fatalf("expected stable allocation, got %s then %s", ip1, ip2)
	}
	domain, ok := pool.Lookup(ip1)
	if !ok || domain != "example.com" {
		t.Fatalf("expected reverse lookup to recover domain, got %q, %v", domain, ok)
	}
	if !pool.Contains(ip1) {
		t.Fatal("expected allocated address to be within pool range")
	}
}

func TestFakeIpPoolEvictsOldestOnWraparound(t *testing.T) {
	pool, err := NewFakeIpPool(netip.MustParsePrefix("198.18.0.0/30")) // 4 addresses
	if err != nil {
		t.Fatal(err)
	}
	first := pool.Allocate("a.example")
	pool.Allocate("b.example")
	pool.Allocate("c.example")
	pool.Allocate("d.example")
	// fifth allocation wraps and must evict "a.example"'s mapping.
	pool.Allocate("e.example")

	if _, ok := pool.Lookup(first); ok {
		t.Fatal("expected oldest mapping to be evicted on wraparound collision")
	}
}

func TestFakeIpResolverExcludesConfiguredSuffixes(t *testing.T) {
	innerCalled := false
	inner := ResolverFunc(func(ctx context.Context, host, network string) ([]netip.Addr, error) {
		innerCalled = true
		return addrs("1.1.1.1"), nil
	})
	pool, err := NewFakeIpPool(netip.MustParsePrefix("198.18.0.0/24"))
	if err != nil {
		t.Fatal(err)
	}
	f := NewFakeIpResolver(pool, inner, []string{"excluded.example"})

	got, err := f.Resolve(context.Background(), "foo.example.com", "")
	if err != nil {
		t.Fatal(err)
	}
	if !pool.Contains(got[0]) {
		t.Fatalf("expected synthesized fake IP, got %v", got)
	}

	if _, err := f.Resolve(context.Background(), "svc.excluded.example", ""); err != nil {
		t.Fatal(err)
	}
	if !innerCalled {
		t.Fatal("expected excluded domain to delegate to inner resolver")
	}
}
