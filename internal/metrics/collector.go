// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"context"
	"time"

	"nyx.sh/core/internal/errkind"
	"nyx.sh/core/internal/tracker"
)

// Collector polls a Tracker on an interval and pushes its point-in-time
// state into a Registry's gauges, grounded on the teacher's own
// collector.go (a ticking goroutine that reads a store and calls a
// handful of Set/Add methods on its metrics struct). The tracker's
// totals are cumulative since process start, so the collector keeps the
// last-seen values and reports only the delta to the Prometheus counters.
type Collector struct {
	registry *Registry
	tracker  *tracker.Tracker
	interval time.Duration

	lastOutbound map[string]tracker.TrafficSnapshot
	lastErrors   map[errkind.Kind]uint64
}

// NewCollector builds a Collector polling trk every interval.
func NewCollector(registry *Registry, trk *tracker.Tracker, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Collector{
		registry:     registry,
		tracker:      trk,
		interval:     interval,
		lastOutbound: make(map[string]tracker.TrafficSnapshot),
		lastErrors:   make(map[errkind.Kind]uint64),
	}
}

// Run blocks, sampling the tracker until ctx is canceled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Collector) sample() {
	totals := c.tracker.Snapshot()
	c.registry.SetActiveConnections(totals.ActiveCount)

	for outboundTag, snap := range c.tracker.PerOutboundTraffic() {
		prev := c.lastOutbound[outboundTag]
		if d := snap.TotalUpload - prev.TotalUpload; d > 0 {
			c.registry.AddOutboundBytes(outboundTag, "upload", d)
		}
		if d := snap.TotalDownload - prev.TotalDownload; d > 0 {
			c.registry.AddOutboundBytes(outboundTag, "download", d)
		}
		c.lastOutbound[outboundTag] = snap
	}

	for kind, count := range c.tracker.ErrorCounts() {
		prev := c.lastErrors[kind]
		if d := count - prev; d > 0 {
			c.registry.errorsByKind.WithLabelValues(kind.String()).Add(float64(d))
		}
		c.lastErrors[kind] = count
	}
}
