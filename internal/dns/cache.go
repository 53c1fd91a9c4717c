// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dns

import (
	"context"
	"hash/fnv"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"nyx.sh/core/internal/clock"
)

// cacheShardCount mirrors the teacher's sharded-cache idiom
// (internal/services/dns/service.go's getShard) to keep lock contention
// low under concurrent resolves.
const cacheShardCount = 16

// DefaultPositiveTTL and DefaultNegativeTTL apply when the inner resolver
// doesn't report a TTL (plain Resolver, not TTLResolver).
const (
	DefaultPositiveTTL = 5 * time.Minute
	DefaultNegativeTTL = 30 * time.Second
)

// TTLResolver is implemented by leaf resolvers that can report the
// upstream TTL alongside the answer, letting CachedResolver size its entry
// accurately instead of falling back to a fixed default.
type TTLResolver interface {
	ResolveTTL(ctx context.Context, host, network string) ([]netip.Addr, time.Duration, error)
}

// cacheEntry is the Positive(addrs)/Negative(reason) sum type from the
// data model, plus bookkeeping for prefetch and ring eviction.
type cacheEntry struct {
	addrs       []netip.Addr
	negative    bool
	expiresAt   time.Time
	originalTTL time.Duration
	accessCount int
}

func (e *cacheEntry) expired(now time.Time) bool { return now.After(e.expiresAt) }

func (e *cacheEntry) remainingFraction(now time.Time) float64 {
	total := e.originalTTL.Seconds()
	if total <= 0 {
		return 0
	}
	remaining := e.expiresAt.Sub(now).Seconds()
	if remaining < 0 {
		return 0
	}
	return remaining / total
}

type cacheShard struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// CachedResolver wraps an inner resolver with a sharded TTL cache and
// single-flight de-duplication of concurrent identical lookups.
type CachedResolver struct {
	inner Resolver

	shards  [cacheShardCount]*cacheShard
	group   singleflight.Group
	maxSize int

	recentMu sync.Mutex
	recent   []string // ring of recently-touched cache keys, oldest first

	positiveTTL time.Duration
	negativeTTL time.Duration
}

// NewCachedResolver wraps inner with a cache capped at maxSize total
// entries across all shards.
func NewCachedResolver(inner Resolver, maxSize int) *CachedResolver {
	c := &CachedResolver{
		inner:       inner,
		maxSize:     maxSize,
		positiveTTL: DefaultPositiveTTL,
		negativeTTL: DefaultNegativeTTL,
	}
	for i := range c.shards {
		c.shards[i] = &cacheShard{entries: make(map[string]*cacheEntry)}
	}
	return c
}

func (c *CachedResolver) shardFor(key string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%cacheShardCount]
}

func cacheKey(host, network string) string { return network + "|" + host }

// Resolve implements Resolver: serves from cache when fresh, otherwise
// elects a single-flight leader to resolve upstream while other callers
// for the same key wait on the same group call.
func (c *CachedResolver) Resolve(ctx context.Context, host, network string) ([]netip.Addr, error) {
	key := cacheKey(host, network)
	shard := c.shardFor(key)

	now := clock.Now()
	shard.mu.Lock()
	if entry, ok := shard.entries[key]; ok && !entry.expired(now) {
		entry.accessCount++
		addrs := entry.addrs
		negative := entry.negative
		shard.mu.Unlock()
		c.touch(key)
		if negative {
			return nil, ErrNoRecords
		}
		return addrs, nil
	}
	shard.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		addrs, ttl, rerr := c.resolveUpstream(ctx, host, network)
		c.store(shard, key, addrs, ttl, rerr)
		if rerr != nil {
			return nil, rerr
		}
		return addrs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]netip.Addr), nil
}

func (c *CachedResolver) resolveUpstream(ctx context.Context, host, network string) ([]netip.Addr, time.Duration, error) {
	if ttlResolver, ok := c.inner.(TTLResolver); ok {
		addrs, ttl, err := ttlResolver.ResolveTTL(ctx, host, network)
		return addrs, ttl, err
	}
	addrs, err := c.inner.Resolve(ctx, host, network)
	return addrs, c.positiveTTL, err
}

func (c *CachedResolver) store(shard *cacheShard, key string, addrs []netip.Addr, ttl time.Duration, err error) {
	now := clock.Now()
	entry := &cacheEntry{accessCount: 1}
	if err != nil {
		entry.negative = true
		entry.originalTTL = c.negativeTTL
		entry.expiresAt = now.Add(c.negativeTTL)
	} else {
		if ttl <= 0 {
			ttl = c.positiveTTL
		}
		entry.addrs = addrs
		entry.originalTTL = ttl
		entry.expiresAt = now.Add(ttl)
	}

	shard.mu.Lock()
	shard.entries[key] = entry
	shard.mu.Unlock()
	c.touch(key)
	c.evictIfNeeded()
}

// touch records key as most-recently-used at the tail of the ring.
func (c *CachedResolver) touch(key string) {
	c.recentMu.Lock()
	defer c.recentMu.Unlock()
	for i, k := range c.recent {
		if k == key {
			c.recent = append(c.recent[:i], c.recent[i+1:]...)
			break
		}
	}
	c.recent = append(c.recent, key)
}

// evictIfNeeded drops the oldest entries in ring order until total size is
// back under maxSize, per the "ring of recent hosts drives eviction" rule.
func (c *CachedResolver) evictIfNeeded() {
	if c.maxSize <= 0 {
		return
	}
	for c.size() > c.maxSize {
		c.recentMu.Lock()
		if len(c.recent) == 0 {
			c.recentMu.Unlock()
			return
		}
		oldest := c.recent[0]
		c.recent = c.recent[1:]
		c.recentMu.Unlock()

		shard := c.shardFor(oldest)
		shard.mu.Lock()
		delete(shard.entries, oldest)
		shard.mu.Unlock()
	}
}

func (c *CachedResolver) size() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}

// PrefetchCandidates returns cache keys whose remaining TTL has dropped
// below 30% of original and whose access count is at least 2, the set the
// out-of-band prefetch loop should proactively refresh.
func (c *CachedResolver) PrefetchCandidates() []string {
	now := clock.Now()
	var out []string
	for _, shard := range c.shards {
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if entry.negative {
				continue
			}
			if entry.remainingFraction(now) < 0.3 && entry.accessCount >= 2 {
				out = append(out, key)
			}
		}
		shard.mu.Unlock()
	}
	return out
}
