// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package address

import "net/netip"

// SniffOverride controls how a sniffed domain replaces an existing IP
// target on a Session.
type SniffOverride string

const (
	// OverrideFull replaces both the host and keeps the original port.
	OverrideFull SniffOverride = "full"
	// OverrideDomainOnly only swaps the host used for routing/logging but
	// outbounds still dial the original IP.
	OverrideDomainOnly SniffOverride = "domain-only"
	// OverridePortOnly never swaps the host; only the detected_protocol and
	// matching port-based rules are affected.
	OverridePortOnly SniffOverride = "port-only"
	// OverrideRouteOnly uses the sniffed domain for routing decisions only;
	// the Session's Target stays the original IP for the connect step.
	OverrideRouteOnly SniffOverride = "route-only"
)

// Session is the immutable record an inbound produces and the dispatcher
// consumes. It may be rewritten exactly once by the sniffer (producing a
// new Session value, since Sessions are themselves immutable).
type Session struct {
	Target           Address
	Source           *netip.AddrPort
	InboundTag       string
	Network          Network
	Sniff            bool
	SniffOverride    SniffOverride
	DetectedProtocol string
	RouteTarget      Address // used for routing; differs from Target after a domain-only or route-only sniff override, equals Target otherwise
}

// NewSession constructs a Session with RouteTarget defaulted to Target.
func NewSession(target Address, inboundTag string, network Network) Session {
	return Session{
		Target:        target,
		InboundTag:    inboundTag,
		Network:       network,
		SniffOverride: OverrideFull,
		RouteTarget:   target,
	}
}

// WithSniffedDomain applies the sniffed domain according to s.SniffOverride
// and returns a new Session; the receiver is never mutated.
func (s Session) WithSniffedDomain(domain, protocol string) Session {
	out := s
	out.DetectedProtocol = protocol
	switch s.SniffOverride {
	case OverrideDomainOnly:
		out.RouteTarget = s.Target.WithDomain(domain)
	case OverridePortOnly:
		// host untouched; only detected_protocol changes.
	case OverrideRouteOnly:
		out.RouteTarget = s.Target.WithDomain(domain)
	case OverrideFull:
		fallthrough
	default:
		out.Target = s.Target.WithDomain(domain)
		out.RouteTarget = out.Target
	}
	return out
}

// RoutingAddress returns the Address rule matching should use.
func (s Session) RoutingAddress() Address {
	return s.RouteTarget
}
