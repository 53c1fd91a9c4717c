// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package outbound

import (
	"fmt"
	"sync"
)

// maxGroupDepth bounds how deeply groups may reference other groups,
// rejecting pathological configs the same way the dependency-DAG check
// rejects cycles.
const maxGroupDepth = 8

// GroupConfig is the build-time description of a proxy group; concrete
// outbounds are registered directly via Registry.Register instead.
type GroupConfig struct {
	Tag       string
	Policy    string // selector | url-test | fallback | load-balance | sticky | latency-weighted
	Children  []string
	Selected  string // initial selection, selector only
	ProbeURL  string
	Interval  int // seconds
	Alpha     float64
	Tolerance float64 // ms; url-test hysteresis margin, pickLowestLatency only
}

// Registry is the tagged outbound registry: `get(tag) -> handler`, `list()`,
// and the group-introspection operations the management API exposes.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	groups   map[string]*Group
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		groups:   make(map[string]*Group),
	}
}

// Register adds a concrete (non-group) outbound handler.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Tag()]; !exists {
		r.order = append(r.order, h.Tag())
	}
	r.handlers[h.Tag()] = h
}

// Get returns the handler registered under tag.
func (r *Registry) Get(tag string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[tag]
	return h, ok
}

// List returns every registered outbound tag in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// IsGroup reports whether tag names a proxy group.
func (r *Registry) IsGroup(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[tag]
	return ok
}

// GroupMeta returns a group's static configuration for the management API.
func (r *Registry) GroupMeta(tag string) (*GroupConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[tag]
	if !ok {
		return nil, false
	}
	return g.cfg, true
}

// GroupSelected returns the child tag a group currently routes to.
func (r *Registry) GroupSelected(tag string) (string, bool) {
	r.mu.RLock()
	g, ok := r.groups[tag]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	return g.Selected(), true
}

// SelectProxy sets a selector group's active child. Returns an error if tag
// is not a selector group or child is not one of its configured children.
func (r *Registry) SelectProxy(tag, child string) error {
	r.mu.RLock()
	g, ok := r.groups[tag]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("outbound: unknown group %q", tag)
	}
	return g.Select(child)
}

// BuildGroups resolves each group config's children against the
// accumulating registry in repeated passes, registering progressively
// resolvable groups as outbounds in their own right so later groups may
// reference earlier ones. Fails if any group cannot be resolved after no
// further progress is made, or if a dependency chain exceeds maxGroupDepth.
func (r *Registry) BuildGroups(cfgs []GroupConfig) error {
	pending := make(map[string]GroupConfig, len(cfgs))
	for _, c := range cfgs {
		pending[c.Tag] = c
	}

	if err := checkCycles(cfgs); err != nil {
		return err
	}

	for len(pending) > 0 {
		progressed := false
		for tag, cfg := range pending {
			children := make([]Handler, 0, len(cfg.Children))
			resolved := true
			for _, childTag := range cfg.Children {
				h, ok := r.Get(childTag)
				if !ok {
					resolved = false
					break
				}
				children = append(children, h)
			}
			if !resolved {
				continue
			}
			g, err := newGroup(cfg, children)
			if err != nil {
				return err
			}
			r.mu.Lock()
			r.groups[tag] = g
			r.handlers[tag] = g
			r.order = append(r.order, tag)
			r.mu.Unlock()
			delete(pending, tag)
			progressed = true
		}
		if !progressed {
			tags := make([]string, 0, len(pending))
			for tag := range pending {
				tags = append(tags, tag)
			}
			return fmt.Errorf("outbound: unresolved group dependencies: %v", tags)
		}
	}
	return nil
}

// checkCycles runs a DFS over the group dependency graph (edges from a
// group to any child tag that is itself a group) and rejects cycles or
// chains deeper than maxGroupDepth.
func checkCycles(cfgs []GroupConfig) error {
	byTag := make(map[string]GroupConfig, len(cfgs))
	for _, c := range cfgs {
		byTag[c.Tag] = c
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(cfgs))

	var visit func(tag string, depth int) error
	visit = func(tag string, depth int) error {
		if depth > maxGroupDepth {
			return fmt.Errorf("outbound: group dependency depth exceeds %d at %q", maxGroupDepth, tag)
		}
		color[tag] = gray
		cfg, isGroup := byTag[tag]
		if isGroup {
			for _, child := range cfg.Children {
				switch color[child] {
				case gray:
					return fmt.Errorf("outbound: cyclic group dependency involving %q", child)
				case white:
					if _, ok := byTag[child]; ok {
						if err := visit(child, depth+1); err != nil {
							return err
						}
					}
				}
			}
		}
		color[tag] = black
		return nil
	}

	for _, c := range cfgs {
		if color[c.Tag] == white {
			if err := visit(c.Tag, 0); err != nil {
				return err
			}
		}
	}
	return nil
}
