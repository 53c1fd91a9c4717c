// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"nyx.sh/core/internal/address"
	"nyx.sh/core/internal/outbound"
)

var errNotNetConn = errors.New("delay probe requires a net.Conn-backed handler")

type proxyView struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Healthy  bool     `json:"healthy"`
	Now      string   `json:"now,omitempty"`
	Children []string `json:"all,omitempty"`
}

func (s *Server) describeProxy(tag string) (proxyView, bool) {
	h, ok := s.registry.Get(tag)
	if !ok {
		return proxyView{}, false
	}
	v := proxyView{Name: tag, Type: "direct"}
	if hh, ok := h.(interface{ Healthy() bool }); ok {
		v.Healthy = hh.Healthy()
	} else {
		v.Healthy = true
	}
	if cfg, ok := s.registry.GroupMeta(tag); ok {
		v.Type = cfg.Policy
		v.Children = cfg.Children
		if selected, ok := s.registry.GroupSelected(tag); ok {
			v.Now = selected
		}
	}
	return v, true
}

// handleListProxies implements GET /proxies: every registered outbound and
// group, groups annotated with their policy and current selection.
func (s *Server) handleListProxies(w http.ResponseWriter, r *http.Request) {
	tags := s.registry.List()
	out := make([]proxyView, 0, len(tags))
	for _, tag := range tags {
		if v, ok := s.describeProxy(tag); ok {
			out = append(out, v)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetProxy implements GET /proxies/{name}.
func (s *Server) handleGetProxy(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	v, ok := s.describeProxy(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown proxy")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleSelectProxy implements PUT /proxies/{name}: sets a selector group's
// active child, mirroring the operator `select_proxy` operation.
func (s *Server) handleSelectProxy(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.registry.SelectProxy(name, body.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleProxyDelay implements GET /proxies/{name}/delay?url=&timeout=: dials
// the named outbound directly and reports the round-trip time to a HEAD
// request, independent of any group's own health-checker cadence.
func (s *Server) handleProxyDelay(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	h, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown proxy")
		return
	}

	probeURL := r.URL.Query().Get("url")
	if probeURL == "" {
		probeURL = "http://www.gstatic.com/generate_204"
	}
	timeout := 5 * time.Second
	if t := r.URL.Query().Get("timeout"); t != "" {
		if ms, err := strconv.Atoi(t); err == nil && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	ms, err := probeDelay(ctx, h, probeURL)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"delay": -1, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delay": ms})
}

// probeDelay dials url through h and returns the wall time to a HEAD
// response in milliseconds. Mirrors outbound.Group's own probeOnce, which
// the management API can't call directly since it's unexported and scoped
// to health-checker cadence rather than on-demand operator probes.
func probeDelay(ctx context.Context, h outbound.Handler, rawURL string) (int64, error) {
	probeAddr, err := address.ParseAddress(probeHostPort(rawURL))
	if err != nil {
		return 0, err
	}

	transport := &http.Transport{
		DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
			sess := address.NewSession(probeAddr, "api-delay-probe", address.TCP)
			rwc, err := h.Connect(dialCtx, sess)
			if err != nil {
				return nil, err
			}
			conn, ok := rwc.(net.Conn)
			if !ok {
				return nil, errNotNetConn
			}
			return conn, nil
		},
	}
	client := &http.Client{Transport: transport}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return time.Since(start).Milliseconds(), nil
}

func probeHostPort(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "https" {
		return u.Host + ":443"
	}
	return u.Host + ":80"
}
