// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the core's Prometheus registry: traffic
// totals, active-connection gauge, per-outbound counters, rule-match
// counters, and error counters. A periodic Collector that reads the
// tracker feeds the active-connection gauge and the per-outbound and
// error counters; the traffic-total and rule-match counters change only
// through AddUpload/AddDownload and RecordRuleMatch, which the Collector
// does not call.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry owns one prometheus.Registry plus the collectors the core
// registers against it, grounded on the teacher's own metrics package
// shape (a struct of named collectors plus a single constructor that
// registers all of them at once).
type Registry struct {
	reg *prometheus.Registry

	trafficUpload   prometheus.Counter
	trafficDownload prometheus.Counter
	activeConns     prometheus.Gauge
	outboundBytes   *prometheus.CounterVec
	ruleMatches     *prometheus.CounterVec
	errorsByKind    *prometheus.CounterVec
}

// NewRegistry builds a Registry with every collector registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		trafficUpload: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nyx_traffic_upload_bytes_total",
			Help: "Total bytes relayed from clients to upstreams.",
		}),
		trafficDownload: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nyx_traffic_download_bytes_total",
			Help: "Total bytes relayed from upstreams to clients.",
		}),
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nyx_active_connections",
			Help: "Number of connections currently tracked.",
		}),
		outboundBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nyx_outbound_bytes_total",
			Help: "Bytes relayed per outbound tag and direction.",
		}, []string{"outbound", "direction"}),
		ruleMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nyx_rule_matches_total",
			Help: "Number of sessions routed by each rule.",
		}, []string{"rule"}),
		errorsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nyx_errors_total",
			Help: "Errors observed by kind.",
		}, []string{"kind"}),
	}
	r.reg.MustRegister(
		r.trafficUpload, r.trafficDownload, r.activeConns,
		r.outboundBytes, r.ruleMatches, r.errorsByKind,
	)
	return r
}

// Prometheus returns the underlying registry for an HTTP exposition
// handler to wrap.
func (r *Registry) Prometheus() *prometheus.Registry { return r.reg }

// Gatherer exposes the same registry through the generic prometheus
// interface the promhttp handler expects.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// AddUpload/AddDownload satisfy tracker.ByteCounter-compatible usage at
// the process level (summed across all connections).
func (r *Registry) AddUpload(n uint64)   { r.trafficUpload.Add(float64(n)) }
func (r *Registry) AddDownload(n uint64) { r.trafficDownload.Add(float64(n)) }

// SetActiveConnections updates the live-connection gauge.
func (r *Registry) SetActiveConnections(n int) { r.activeConns.Set(float64(n)) }

// AddOutboundBytes records n bytes relayed through outboundTag in the
// given direction ("upload" or "download").
func (r *Registry) AddOutboundBytes(outboundTag, direction string, n uint64) {
	r.outboundBytes.WithLabelValues(outboundTag, direction).Add(float64(n))
}

// RecordRuleMatch increments the counter for the given rule description.
func (r *Registry) RecordRuleMatch(rule string) {
	if rule == "" {
		rule = "fallback"
	}
	r.ruleMatches.WithLabelValues(rule).Inc()
}

// RecordError increments the counter for the given error kind string.
func (r *Registry) RecordError(kind string) {
	r.errorsByKind.WithLabelValues(kind).Inc()
}
