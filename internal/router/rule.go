// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package router implements rule evaluation over the heterogeneous rule set
// (literal matchers, data-backed matchers, and logical combinators) that
// decides which outbound tag a Session is sent to. Matching is grounded on
// the teacher's packet-matcher idiom (protocol/IP/port predicates folding to
// false fast, CIDR via net.ParseCIDR) generalized from raw packets to
// Sessions and domains.
package router

import (
	"net/netip"
	"strconv"
	"strings"

	"nyx.sh/core/internal/address"
)

// Kind identifies a rule predicate's type.
type Kind string

const (
	KindDomainSuffix  Kind = "domain-suffix"
	KindDomainKeyword Kind = "domain-keyword"
	KindDomainFull    Kind = "domain-full"
	KindIPCidr        Kind = "ip-cidr"
	KindDstPort       Kind = "dst-port"
	KindSrcPort       Kind = "src-port"
	KindNetwork       Kind = "network"
	KindInTag         Kind = "in-tag"
	KindProcessName   Kind = "process-name"
	KindProcessPath   Kind = "process-path"
	KindUid           Kind = "uid"
	KindIPAsn         Kind = "ip-asn"
	KindGeoIP         Kind = "geoip"
	KindGeoSite       Kind = "geosite"
	KindRuleSet       Kind = "rule-set"
	KindAnd           Kind = "and"
	KindOr            Kind = "or"
	KindNot           Kind = "not"
)

// Session is the subset of address.Session plus process/uid metadata a rule
// may need. Process/uid are optional because most inbounds can't supply
// them (see Open Questions: IpAsn/Uid are stubs in the reference source).
type Session struct {
	address.Session
	ProcessName string
	ProcessPath string
	Uid         *int
}

// Rule is a predicate plus the outbound tag it routes matching sessions to.
type Rule struct {
	Kind     Kind
	Values   []string
	Outbound string
	Action   string // "route" (default) or "reject"; reject short-circuits the dispatcher

	// Sub-rules for combinators.
	Sub []*Rule

	// Providers referenced by GeoIp/GeoSite/RuleSet, resolved at build time.
	geoIP    GeoIPProvider
	geoSite  *GeoSiteSet
	ruleSet  *RuleProvider
}

// BindProviders attaches the resolved provider data a data-backed rule
// needs. Called by Router.Build, never by rule construction directly, so
// Rule values stay otherwise immutable per the data-model invariant.
func (r *Rule) BindProviders(geoIP GeoIPProvider, geoSite *GeoSiteSet, rs *RuleProvider) {
	r.geoIP = geoIP
	r.geoSite = geoSite
	r.ruleSet = rs
	for _, sub := range r.Sub {
		sub.BindProviders(geoIP, geoSite, rs)
	}
}

// Match evaluates the rule against a session. It is pure and panic-free:
// any predicate that needs data the session doesn't carry (e.g. SrcPort on
// a session with no Source) reports no-match rather than failing.
func (r *Rule) Match(s Session) bool {
	switch r.Kind {
	case KindDomainSuffix:
		return matchDomain(s, func(host string) bool {
			for _, v := range r.Values {
				if strings.HasSuffix(host, strings.ToLower(v)) {
					return true
				}
			}
			return false
		})
	case KindDomainKeyword:
		return matchDomain(s, func(host string) bool {
			for _, v := range r.Values {
				if strings.Contains(host, strings.ToLower(v)) {
					return true
				}
			}
			return false
		})
	case KindDomainFull:
		return matchDomain(s, func(host string) bool {
			for _, v := range r.Values {
				if host == strings.ToLower(v) {
					return true
				}
			}
			return false
		})
	case KindIPCidr:
		return matchIP(s, func(ip netip.Addr) bool {
			for _, v := range r.Values {
				prefix, err := netip.ParsePrefix(v)
				if err != nil {
					continue
				}
				if prefix.Contains(ip) {
					return true
				}
			}
			return false
		})
	case KindDstPort:
		return matchPort(int(s.RoutingAddress().Port()), r.Values)
	case KindSrcPort:
		if s.Source == nil {
			return false
		}
		return matchPort(int(s.Source.Port()), r.Values)
	case KindNetwork:
		for _, v := range r.Values {
			if strings.EqualFold(v, string(s.Network)) {
				return true
			}
		}
		return false
	case KindInTag:
		for _, v := range r.Values {
			if v == s.InboundTag {
				return true
			}
		}
		return false
	case KindProcessName:
		if s.ProcessName == "" {
			return false
		}
		for _, v := range r.Values {
			if strings.EqualFold(v, s.ProcessName) {
				return true
			}
		}
		return false
	case KindProcessPath:
		if s.ProcessPath == "" {
			return false
		}
		for _, v := range r.Values {
			if v == s.ProcessPath {
				return true
			}
		}
		return false
	case KindUid:
		if s.Uid == nil {
			return false
		}
		for _, v := range r.Values {
			id, err := strconv.Atoi(v)
			if err == nil && id == *s.Uid {
				return true
			}
		}
		return false
	case KindIPAsn:
		// Open question in the source design: ASN lookup has no grounded
		// data source wired in this core, so it evaluates to no-match.
		return false
	case KindGeoIP:
		return matchIP(s, func(ip netip.Addr) bool {
			if r.geoIP == nil {
				return false
			}
			country, err := r.geoIP.Country(ip)
			if err != nil {
				return false
			}
			for _, v := range r.Values {
				if strings.EqualFold(v, country) {
					return true
				}
			}
			return false
		})
	case KindGeoSite:
		return matchDomain(s, func(host string) bool {
			if r.geoSite == nil {
				return false
			}
			for _, category := range r.Values {
				if r.geoSite.Matches(category, host) {
					return true
				}
			}
			return false
		})
	case KindRuleSet:
		if r.ruleSet == nil {
			return false
		}
		return r.ruleSet.Matches(s)
	case KindAnd:
		for _, sub := range r.Sub {
			if !sub.Match(s) {
				return false
			}
		}
		return true
	case KindOr:
		for _, sub := range r.Sub {
			if sub.Match(s) {
				return true
			}
		}
		return false
	case KindNot:
		if len(r.Sub) != 1 {
			return false
		}
		return !r.Sub[0].Match(s)
	default:
		return false
	}
}

func matchDomain(s Session, pred func(host string) bool) bool {
	addr := s.RoutingAddress()
	if !addr.IsDomain() {
		return false
	}
	return pred(strings.ToLower(addr.Domain()))
}

func matchIP(s Session, pred func(ip netip.Addr) bool) bool {
	addr := s.RoutingAddress()
	if !addr.IsIP() {
		return false
	}
	return pred(addr.IP())
}

func matchPort(port int, values []string) bool {
	if len(values) == 0 {
		return true
	}
	for _, v := range values {
		if lo, hi, ok := strings.Cut(v, "-"); ok {
			loN, err1 := strconv.Atoi(lo)
			hiN, err2 := strconv.Atoi(hi)
			if err1 == nil && err2 == nil && port >= loN && port <= hiN {
				return true
			}
			continue
		}
		n, err := strconv.Atoi(v)
		if err == nil && n == port {
			return true
		}
	}
	return false
}
