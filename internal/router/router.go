// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package router

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// DefaultOutbound is returned when no rule matches and the caller supplied
// no override.
const DefaultOutbound = "direct"

// Decision is the result of routing a session.
type Decision struct {
	Outbound    string
	MatchedRule string
	Reject      bool
}

// Router evaluates an ordered rule list against a Session, first match
// wins, mirroring the teacher's evaluator.Evaluate(pkt) (Verdict, string)
// idiom generalized from packets to sessions. The active rule set is held
// behind an atomic.Pointer so Route never blocks on a config reload.
type Router struct {
	snapshot atomic.Pointer[routerSnapshot]
	fallback string
}

type routerSnapshot struct {
	rules []*Rule
}

// New builds a Router with an empty rule set and the given fallback
// outbound tag (used when nothing matches).
func New(fallback string) *Router {
	if fallback == "" {
		fallback = DefaultOutbound
	}
	r := &Router{fallback: fallback}
	r.snapshot.Store(&routerSnapshot{})
	return r
}

// Build atomically replaces the active rule set. Safe to call concurrently
// with Route from any number of goroutines.
func (r *Router) Build(rules []*Rule, geoIP GeoIPProvider, geoSite *GeoSiteSet, providers map[string]*RuleProvider) {
	for _, rule := range rules {
		var rs *RuleProvider
		if rule.Kind == KindRuleSet && len(rule.Values) == 1 {
			rs = providers[rule.Values[0]]
		}
		rule.BindProviders(geoIP, geoSite, rs)
	}
	r.snapshot.Store(&routerSnapshot{rules: rules})
}

// Route evaluates the active rule set in order and returns the first match,
// or the fallback outbound if nothing matches.
func (r *Router) Route(s Session) Decision {
	snap := r.snapshot.Load()
	for _, rule := range snap.rules {
		if rule.Match(s) {
			if rule.Action == "reject" {
				return Decision{Reject: true, MatchedRule: rule.describe()}
			}
			return Decision{Outbound: rule.Outbound, MatchedRule: rule.describe()}
		}
	}
	return Decision{Outbound: r.fallback}
}

// RuleView is the read-only projection of a rule the management API lists;
// it never exposes the bound provider pointers.
type RuleView struct {
	Description string
	Outbound    string
	Action      string
}

// Rules returns the active rule set in evaluation order, for the management
// API's rule listing.
func (r *Router) Rules() []RuleView {
	snap := r.snapshot.Load()
	out := make([]RuleView, len(snap.rules))
	for i, rule := range snap.rules {
		action := rule.Action
		if action == "" {
			action = "route"
		}
		out[i] = RuleView{Description: rule.describe(), Outbound: rule.Outbound, Action: action}
	}
	return out
}

// describe renders a short "kind:value,value" label used as the matched
// rule string the tracker/API expose, mirroring spec's flat rule form.
func (r *Rule) describe() string {
	if r.Kind == KindAnd || r.Kind == KindOr || r.Kind == KindNot {
		parts := make([]string, len(r.Sub))
		for i, sub := range r.Sub {
			parts[i] = sub.describe()
		}
		return fmt.Sprintf("%s(%s)", r.Kind, strings.Join(parts, ","))
	}
	return fmt.Sprintf("%s:%s", r.Kind, strings.Join(r.Values, ","))
}

// ParseRule parses a single flat rule line of the form
// "type:value[,value...]:outbound" with an optional leading logical
// combinator wrapper "and:(rule|rule):outbound" / "or:(...)" / "not:(...)".
// This is the wire format rule-set files and inline config entries use.
func ParseRule(line string) (*Rule, error) {
	fields := strings.Split(line, ":")
	if len(fields) < 2 {
		return nil, fmt.Errorf("router: malformed rule %q", line)
	}
	kind := Kind(strings.ToLower(fields[0]))

	switch kind {
	case KindAnd, KindOr, KindNot:
		// Sub-rules carry their own "type:value" colons, so the outbound is
		// whatever follows the last colon and the parenthesized body precedes it.
		body := line[len(fields[0])+1:]
		cut := strings.LastIndex(body, ":")
		if cut < 0 || !strings.HasPrefix(body, "(") || !strings.HasSuffix(body[:cut], ")") {
			return nil, fmt.Errorf("router: malformed combinator rule %q", line)
		}
		inner := body[1 : cut-1]
		subLines := splitTopLevel(inner, '|')
		sub := make([]*Rule, 0, len(subLines))
		for _, sl := range subLines {
			r, err := parseLeaf(sl)
			if err != nil {
				return nil, err
			}
			sub = append(sub, r)
		}
		return &Rule{Kind: kind, Sub: sub, Outbound: body[cut+1:]}, nil
	default:
		if len(fields) != 3 {
			return nil, fmt.Errorf("router: malformed rule %q", line)
		}
		return &Rule{
			Kind:     kind,
			Values:   strings.Split(fields[1], ","),
			Outbound: fields[2],
		}, nil
	}
}

// parseLeaf parses "type:value,value" with no outbound suffix, used for
// sub-rules nested inside a combinator.
func parseLeaf(s string) (*Rule, error) {
	typ, values, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("router: malformed sub-rule %q", s)
	}
	return &Rule{Kind: Kind(strings.ToLower(typ)), Values: strings.Split(values, ",")}, nil
}

// splitTopLevel splits s on sep, ignoring any sep characters that appear
// inside parentheses (none currently nest past one level, matching the
// grammar ParseRule accepts).
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		default:
			if s[i] == sep && depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}
