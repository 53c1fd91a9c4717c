// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package router

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// GeoIPProvider resolves an IP to an ISO country code. It is satisfied by
// *MaxMindProvider in production and by a fake in tests.
type GeoIPProvider interface {
	Country(ip netip.Addr) (string, error)
}

// MaxMindProvider wraps a MaxMind GeoLite2-Country mmdb, grounded on the
// domain-stack decision to use oschwald/geoip2-golang for the geoip matcher
// rather than hand-rolling a country-range table.
type MaxMindProvider struct {
	db *geoip2.Reader
}

// OpenMaxMindProvider opens the mmdb at path. The reader is safe for
// concurrent lookups, matching the Router's read-mostly access pattern.
func OpenMaxMindProvider(path string) (*MaxMindProvider, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("router: open geoip database: %w", err)
	}
	return &MaxMindProvider{db: db}, nil
}

// Country implements GeoIPProvider.
func (p *MaxMindProvider) Country(ip netip.Addr) (string, error) {
	rec, err := p.db.Country(ip.AsSlice())
	if err != nil {
		return "", err
	}
	return strings.ToUpper(rec.Country.IsoCode), nil
}

// Close releases the underlying mmdb file.
func (p *MaxMindProvider) Close() error { return p.db.Close() }

// GeoSiteSet is an in-memory category -> domain-suffix-list table, loaded
// from a flat text source (one "category,suffix" pair per line) in the
// absence of a binary geosite database in the dependency pack.
type GeoSiteSet struct {
	mu         sync.RWMutex
	categories map[string][]string
}

// NewGeoSiteSet builds an empty set.
func NewGeoSiteSet() *GeoSiteSet {
	return &GeoSiteSet{categories: make(map[string][]string)}
}

// LoadFile parses "category,suffix" lines from path, appending to any
// categories already present.
func (g *GeoSiteSet) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("router: open geosite file: %w", err)
	}
	defer f.Close()

	g.mu.Lock()
	defer g.mu.Unlock()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		category, suffix, ok := strings.Cut(line, ",")
		if !ok {
			continue
		}
		category = strings.ToLower(strings.TrimSpace(category))
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		g.categories[category] = append(g.categories[category], suffix)
	}
	return sc.Err()
}

// Matches reports whether host falls under category by suffix membership.
func (g *GeoSiteSet) Matches(category, host string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, suffix := range g.categories[strings.ToLower(category)] {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// RuleProvider is a remotely- or locally-sourced list of sub-rules kept
// under a tag, refreshed out of band (e.g. by a periodic fetch task) and
// swapped atomically the same way Router snapshots itself.
type RuleProvider struct {
	mu    sync.RWMutex
	tag   string
	rules []*Rule
}

// NewRuleProvider creates a named, initially-empty rule provider.
func NewRuleProvider(tag string) *RuleProvider {
	return &RuleProvider{tag: tag}
}

// Tag returns the provider's identifying tag.
func (p *RuleProvider) Tag() string { return p.tag }

// Update atomically replaces the provider's rule set.
func (p *RuleProvider) Update(rules []*Rule) {
	p.mu.Lock()
	p.rules = rules
	p.mu.Unlock()
}

// Matches reports whether any rule currently held by the provider matches s.
func (p *RuleProvider) Matches(s Session) bool {
	p.mu.RLock()
	rules := p.rules
	p.mu.RUnlock()
	for _, r := range rules {
		if r.Match(s) {
			return true
		}
	}
	return false
}
