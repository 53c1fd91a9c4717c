// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package tracker implements the connection tracker: the live-connection
// registry, byte counters, latency percentiles, per-outbound attribution,
// and graceful drain support described in the core's design. It follows the
// teacher's pattern of a read-write-locked live map plus atomics for the hot
// counters.
package tracker

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"nyx.sh/core/internal/address"
	"nyx.sh/core/internal/clock"
	"nyx.sh/core/internal/errkind"
)

// ConnectionInfo is the immutable-attributes + mutable-counters record the
// management API exposes for a live connection.
type ConnectionInfo struct {
	ID           uint64
	CorrelationID string
	Target       address.Address
	InboundTag   string
	OutboundTag  string
	RouteTag     string
	MatchedRule  string
	StartTime    time.Time
	Source       *address.Address
	Network      address.Network

	upload   atomic.Uint64
	download atomic.Uint64
	lastSeen atomic.Int64 // unix nanos
}

// Upload returns the current uploaded byte count.
func (c *ConnectionInfo) Upload() uint64 { return c.upload.Load() }

// Download returns the current downloaded byte count.
func (c *ConnectionInfo) Download() uint64 { return c.download.Load() }

// LastActivity returns the timestamp of the most recent byte transferred.
func (c *ConnectionInfo) LastActivity() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// snapshot is a value copy safe to hand to callers outside the tracker.
type Snapshot struct {
	ID           uint64
	CorrelationID string
	Target       string
	InboundTag   string
	OutboundTag  string
	RouteTag     string
	MatchedRule  string
	StartTime    time.Time
	Upload       uint64
	Download     uint64
	Network      address.Network
}

// TrafficSnapshot is the atomic point-in-time totals view.
type TrafficSnapshot struct {
	TotalUpload   uint64
	TotalDownload uint64
	ActiveCount   int
}

// outboundTotals accumulates traffic per outbound tag.
type outboundTotals struct {
	upload   atomic.Uint64
	download atomic.Uint64
}

const latencyRingCapacity = 2048

// Tracker is the live connection registry.
type Tracker struct {
	mu   sync.RWMutex
	live map[uint64]*ConnectionInfo

	nextID atomic.Uint64

	totalUpload   atomic.Uint64
	totalDownload atomic.Uint64

	outboundMu sync.Mutex
	outbound   map[string]*outboundTotals

	errMu  sync.Mutex
	errors map[errkind.Kind]uint64

	routeHitMu sync.Mutex
	routeHits  map[string]uint64

	latencyMu  sync.Mutex
	latencies  []int64 // ring buffer, milliseconds
	latencyPos int

	closeFns sync.Map // id -> func()
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		live:      make(map[uint64]*ConnectionInfo),
		outbound:  make(map[string]*outboundTotals),
		errors:    make(map[errkind.Kind]uint64),
		routeHits: make(map[string]uint64),
		latencies: make([]int64, 0, latencyRingCapacity),
	}
}

// Track registers a new connection and returns a Guard the dispatcher must
// drop (via Close) once the connection ends. onClose, if non-nil, is invoked
// to close the underlying transport when the operator force-closes by id.
func (t *Tracker) Track(sess address.Session, outboundTag, routeTag, matchedRule string, onClose func()) *Guard {
	id := t.nextID.Add(1)
	info := &ConnectionInfo{
		ID:            id,
		CorrelationID: uuid.NewString(),
		Target:        sess.Target,
		InboundTag:    sess.InboundTag,
		OutboundTag:   outboundTag,
		RouteTag:      routeTag,
		MatchedRule:   matchedRule,
		StartTime:     clock.Now(),
		Network:       sess.Network,
	}
	if sess.Source != nil {
		src := address.FromIP(sess.Source.Addr(), sess.Source.Port())
		info.Source = &src
	}
	info.lastSeen.Store(clock.Now().UnixNano())

	t.mu.Lock()
	t.live[id] = info
	t.mu.Unlock()

	if onClose != nil {
		t.closeFns.Store(id, onClose)
	}

	t.outboundMu.Lock()
	if _, ok := t.outbound[outboundTag]; !ok {
		t.outbound[outboundTag] = &outboundTotals{}
	}
	t.outboundMu.Unlock()

	// Route-hit counting happens once, via the caller's explicit
	// RecordRouteHit call (made for both accepted and rejected sessions);
	// Track only records routeTag as a ConnectionInfo attribute.

	return &Guard{tracker: t, info: info}
}

// finalize accumulates a dropped guard's counters into the process and
// per-outbound totals, then removes it from the live map.
func (t *Tracker) finalize(info *ConnectionInfo) {
	up := info.Upload()
	down := info.Download()

	t.totalUpload.Add(up)
	t.totalDownload.Add(down)

	t.outboundMu.Lock()
	ot, ok := t.outbound[info.OutboundTag]
	if !ok {
		ot = &outboundTotals{}
		t.outbound[info.OutboundTag] = ot
	}
	ot.upload.Add(up)
	ot.download.Add(down)
	t.outboundMu.Unlock()

	t.mu.Lock()
	delete(t.live, info.ID)
	t.mu.Unlock()

	t.closeFns.Delete(info.ID)
}

// List returns a snapshot of every live connection.
func (t *Tracker) List() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Snapshot, 0, len(t.live))
	for _, c := range t.live {
		out = append(out, Snapshot{
			ID:            c.ID,
			CorrelationID: c.CorrelationID,
			Target:        c.Target.String(),
			InboundTag:    c.InboundTag,
			OutboundTag:   c.OutboundTag,
			RouteTag:      c.RouteTag,
			MatchedRule:   c.MatchedRule,
			StartTime:     c.StartTime,
			Upload:        c.Upload(),
			Download:      c.Download(),
			Network:       c.Network,
		})
	}
	return out
}

// Close force-closes a single tracked connection by id, invoking its
// registered close function if one was supplied to Track.
func (t *Tracker) Close(id uint64) bool {
	v, ok := t.closeFns.Load(id)
	if !ok {
		return false
	}
	if fn, ok := v.(func()); ok && fn != nil {
		fn()
	}
	return true
}

// CloseAll force-closes every live connection. Used by graceful-shutdown
// drain-timeout handling.
func (t *Tracker) CloseAll() int {
	t.mu.RLock()
	ids := make([]uint64, 0, len(t.live))
	for id := range t.live {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if t.Close(id) {
			n++
		}
	}
	return n
}

// CloseIdle force-closes connections whose guard has not moved a byte in
// more than maxIdle.
func (t *Tracker) CloseIdle(maxIdle time.Duration) int {
	cutoff := clock.Now().Add(-maxIdle)
	t.mu.RLock()
	var stale []uint64
	for id, c := range t.live {
		if c.LastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	t.mu.RUnlock()

	n := 0
	for _, id := range stale {
		if t.Close(id) {
			n++
		}
	}
	return n
}

// Snapshot returns the atomic point-in-time traffic totals.
func (t *Tracker) Snapshot() TrafficSnapshot {
	t.mu.RLock()
	active := len(t.live)
	t.mu.RUnlock()
	return TrafficSnapshot{
		TotalUpload:   t.totalUpload.Load(),
		TotalDownload: t.totalDownload.Load(),
		ActiveCount:   active,
	}
}

// PerOutboundTraffic returns a copy of the per-outbound-tag traffic totals.
func (t *Tracker) PerOutboundTraffic() map[string]TrafficSnapshot {
	t.outboundMu.Lock()
	defer t.outboundMu.Unlock()
	out := make(map[string]TrafficSnapshot, len(t.outbound))
	for tag, ot := range t.outbound {
		out[tag] = TrafficSnapshot{TotalUpload: ot.upload.Load(), TotalDownload: ot.download.Load()}
	}
	return out
}

// RecordRouteHit increments the match counter for a rule/route tag.
func (t *Tracker) RecordRouteHit(routeTag string) {
	t.routeHitMu.Lock()
	t.routeHits[routeTag]++
	t.routeHitMu.Unlock()
}

// RecordError increments the counter for an error kind.
func (t *Tracker) RecordError(kind errkind.Kind) {
	t.errMu.Lock()
	t.errors[kind]++
	t.errMu.Unlock()
}

// ErrorCounts returns a copy of the error-kind counters.
func (t *Tracker) ErrorCounts() map[errkind.Kind]uint64 {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	out := make(map[errkind.Kind]uint64, len(t.errors))
	for k, v := range t.errors {
		out[k] = v
	}
	return out
}

// RecordLatencyMs appends a latency sample (e.g. outbound connect time) to
// the bounded ring.
func (t *Tracker) RecordLatencyMs(ms int64) {
	t.latencyMu.Lock()
	defer t.latencyMu.Unlock()
	if len(t.latencies) < latencyRingCapacity {
		t.latencies = append(t.latencies, ms)
		return
	}
	t.latencies[t.latencyPos] = ms
	t.latencyPos = (t.latencyPos + 1) % latencyRingCapacity
}

// LatencyPercentilesMs returns (p50, p95, p99) over the current ring
// contents. Returns zeros if no samples have been recorded.
func (t *Tracker) LatencyPercentilesMs() (p50, p95, p99 int64) {
	t.latencyMu.Lock()
	samples := append([]int64(nil), t.latencies...)
	t.latencyMu.Unlock()

	if len(samples) == 0 {
		return 0, 0, 0
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	pick := func(pct float64) int64 {
		idx := int(pct * float64(len(samples)-1))
		return samples[idx]
	}
	return pick(0.50), pick(0.95), pick(0.99)
}
