// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tracker

import (
	"sync"

	"nyx.sh/core/internal/clock"
)

// Guard is the per-connection ownership object: the relay (or TUN stack)
// bumps its atomic counters as bytes move, and dropping it (Close) folds
// those counters into the tracker's totals and removes the live-map entry.
// This mirrors the design note preferring a drop-finalized guard over a
// remotely-mutated registry record.
type Guard struct {
	tracker *Tracker
	info    *ConnectionInfo

	closeOnce sync.Once
}

// ID returns the connection's monotonic id.
func (g *Guard) ID() uint64 { return g.info.ID }

// Info returns the underlying ConnectionInfo for read access.
func (g *Guard) Info() *ConnectionInfo { return g.info }

// AddUpload records n more uploaded bytes and refreshes last-activity.
func (g *Guard) AddUpload(n uint64) {
	if n == 0 {
		return
	}
	g.info.upload.Add(n)
	g.info.lastSeen.Store(clock.Now().UnixNano())
}

// AddDownload records n more downloaded bytes and refreshes last-activity.
func (g *Guard) AddDownload(n uint64) {
	if n == 0 {
		return
	}
	g.info.download.Add(n)
	g.info.lastSeen.Store(clock.Now().UnixNano())
}

// Close finalizes the guard's counters into the tracker's totals and
// removes the connection from the live map. Idempotent.
func (g *Guard) Close() {
	g.closeOnce.Do(func() {
		g.tracker.finalize(g.info)
	})
}
