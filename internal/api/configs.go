// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"io"
	"net/http"

	"nyx.sh/core/internal/coreconfig"
)

// handlePatchConfig implements PATCH /configs: decode-validate a full
// configuration document and hand it to the Reloader, which is responsible
// for atomically swapping the Router/Registry/resolver tower. A config
// that fails to decode or validate never reaches the Reloader, so a bad
// PATCH can't leave the core half-reloaded.
func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	if s.reloader == nil {
		writeError(w, http.StatusServiceUnavailable, "config reload not supported by this instance")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	cfg, err := coreconfig.Decode(body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.reloader.Reload(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
