// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import "net/http"

type ruleView struct {
	Rule     string `json:"rule"`
	Outbound string `json:"outbound"`
	Action   string `json:"action"`
}

// handleListRules implements GET /rules: the active rule set in evaluation
// order, first-match-wins, as the router currently holds it.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	views := s.router.Rules()
	out := make([]ruleView, len(views))
	for i, v := range views {
		out[i] = ruleView{Rule: v.Description, Outbound: v.Outbound, Action: v.Action}
	}
	writeJSON(w, http.StatusOK, out)
}
