// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api implements the management HTTP surface: connection listing
// and force-close, rule introspection, proxy group selection and delay
// probing, atomic config reload, and a stats feed mirroring the external
// interface's management API contract. Routing follows the teacher's own
// gorilla/mux usage (internal/api/ebpf_handlers.go) rather than its larger
// stdlib-ServeMux server, since this surface is a single focused router
// rather than the teacher's many hundred hand-authored routes.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nyx.sh/core/internal/coreconfig"
	"nyx.sh/core/internal/logging"
	"nyx.sh/core/internal/metrics"
	"nyx.sh/core/internal/outbound"
	"nyx.sh/core/internal/router"
	"nyx.sh/core/internal/tracker"
)

// Reloader applies a freshly decoded configuration to the running core,
// swapping the Router/Registry/resolver tower atomically. The caller (the
// wiring entrypoint) owns what "atomic" means for its own component graph;
// the API only guarantees it calls Reload at most once per PATCH request.
type Reloader interface {
	Reload(ctx context.Context, cfg *coreconfig.Config) error
}

// Server is the management API: a thin handler set over the already-built
// Router, Registry, Tracker and Metrics Registry.
type Server struct {
	router   *router.Router
	registry *outbound.Registry
	tracker  *tracker.Tracker
	metrics  *metrics.Registry
	reloader Reloader

	httpServer *http.Server
	ws         *wsHub
}

// Options bundles the core components the management API reads from and
// acts on.
type Options struct {
	Addr     string
	Router   *router.Router
	Registry *outbound.Registry
	Tracker  *tracker.Tracker
	Metrics  *metrics.Registry
	Reloader Reloader
}

// New builds a Server and wires its routes; it does not start listening.
func New(opts Options) *Server {
	s := &Server{
		router:   opts.Router,
		registry: opts.Registry,
		tracker:  opts.Tracker,
		metrics:  opts.Metrics,
		reloader: opts.Reloader,
		ws:       newWSHub(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/connections", s.handleListConnections).Methods(http.MethodGet)
	r.HandleFunc("/connections", s.handleCloseAllConnections).Methods(http.MethodDelete)
	r.HandleFunc("/connections/{id}", s.handleCloseConnection).Methods(http.MethodDelete)
	r.HandleFunc("/connections/ws", s.handleConnectionsWS).Methods(http.MethodGet)

	r.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)

	r.HandleFunc("/proxies", s.handleListProxies).Methods(http.MethodGet)
	r.HandleFunc("/proxies/{name}", s.handleGetProxy).Methods(http.MethodGet)
	r.HandleFunc("/proxies/{name}", s.handleSelectProxy).Methods(http.MethodPut)
	r.HandleFunc("/proxies/{name}/delay", s.handleProxyDelay).Methods(http.MethodGet)

	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/configs", s.handlePatchConfig).Methods(http.MethodPatch)

	if opts.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Metrics.Prometheus(), promhttp.HandlerOpts{}))
	}

	r.Use(accessLogMiddleware)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Run serves the management API until ctx is canceled, then shuts down the
// listener gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.ws.Run(ctx, s.tracker)

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Debug("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
