// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

type connectionView struct {
	ID            uint64 `json:"id"`
	CorrelationID string `json:"correlation_id"`
	Target        string `json:"target"`
	InboundTag    string `json:"inbound_tag"`
	OutboundTag   string `json:"outbound_tag"`
	RouteTag      string `json:"route_tag,omitempty"`
	MatchedRule   string `json:"matched_rule,omitempty"`
	StartTime     string `json:"start_time"`
	Upload        uint64 `json:"upload"`
	Download      uint64 `json:"download"`
	Network       string `json:"network"`
}

// handleListConnections implements GET /connections.
func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	snaps := s.tracker.List()
	out := make([]connectionView, 0, len(snaps))
	for _, c := range snaps {
		out = append(out, connectionView{
			ID:            c.ID,
			CorrelationID: c.CorrelationID,
			Target:        c.Target,
			InboundTag:    c.InboundTag,
			OutboundTag:   c.OutboundTag,
			RouteTag:      c.RouteTag,
			MatchedRule:   c.MatchedRule,
			StartTime:     c.StartTime.Format("2006-01-02T15:04:05.000Z07:00"),
			Upload:        c.Upload,
			Download:      c.Download,
			Network:       string(c.Network),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCloseAllConnections implements DELETE /connections.
func (s *Server) handleCloseAllConnections(w http.ResponseWriter, r *http.Request) {
	n := s.tracker.CloseAll()
	writeJSON(w, http.StatusOK, map[string]int{"closed": n})
}

// handleCloseConnection implements DELETE /connections/{id}.
func (s *Server) handleCloseConnection(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}
	if !s.tracker.Close(id) {
		writeError(w, http.StatusNotFound, "no such connection")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
