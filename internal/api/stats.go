// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import "net/http"

type statsView struct {
	ActiveConnections int                 `json:"active_connections"`
	TotalUpload       uint64              `json:"total_upload"`
	TotalDownload     uint64              `json:"total_download"`
	PerOutbound       map[string]trafficV `json:"per_outbound"`
	LatencyP50Ms      int64               `json:"latency_p50_ms"`
	LatencyP95Ms      int64               `json:"latency_p95_ms"`
	LatencyP99Ms      int64               `json:"latency_p99_ms"`
}

type trafficV struct {
	Upload   uint64 `json:"upload"`
	Download uint64 `json:"download"`
}

// handleStats implements GET /stats, a v2ray-style aggregate traffic and
// latency snapshot supplementing the per-connection /connections listing.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	totals := s.tracker.Snapshot()
	perOutbound := make(map[string]trafficV)
	for tag, t := range s.tracker.PerOutboundTraffic() {
		perOutbound[tag] = trafficV{Upload: t.TotalUpload, Download: t.TotalDownload}
	}
	p50, p95, p99 := s.tracker.LatencyPercentilesMs()

	writeJSON(w, http.StatusOK, statsView{
		ActiveConnections: totals.ActiveCount,
		TotalUpload:       totals.TotalUpload,
		TotalDownload:     totals.TotalDownload,
		PerOutbound:       perOutbound,
		LatencyP50Ms:      p50,
		LatencyP95Ms:      p95,
		LatencyP99Ms:      p99,
	})
}
