// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dispatcher implements the core per-connection pipeline: sniff the
// first bytes, map a FakeIP target back to its domain, route through the
// rule engine, connect the chosen outbound, relay bytes, and track the
// connection end to end. Forward DNS resolution of the target is left to
// the outbound that connects it. Grounded on the teacher's
// internal/engine/pipeline.go staged-build idiom: the Dispatcher wires its
// fixed dependencies once at construction and runs the same stage sequence
// for every accepted connection.
package dispatcher

import (
	"bufio"
	"context"

	"nyx.sh/core/internal/address"
	"nyx.sh/core/internal/dispatcher/sniff"
	"nyx.sh/core/internal/dns"
	"nyx.sh/core/internal/errkind"
	"nyx.sh/core/internal/outbound"
	"nyx.sh/core/internal/relay"
	"nyx.sh/core/internal/router"
	"nyx.sh/core/internal/tracker"
)

// Conn is the minimal stream contract the dispatcher needs from an
// accepted inbound connection: read/write/close. relay.Run also uses a
// CloseWrite method for half-close propagation when the connection has one.
type Conn = relay.Stream

// Dispatcher owns the fixed dependencies of the connection pipeline and
// exposes one entrypoint, Dispatch, that every inbound calls per accepted
// session.
type Dispatcher struct {
	Resolver   dns.Resolver
	Router     *router.Router
	Registry   *outbound.Registry
	Tracker    *tracker.Tracker
	SniffPeek  int             // bytes to buffer before giving up on sniffing, 0 disables
	FakeIP     *dns.FakeIpPool // optional; reverses a FakeIP target back to its domain before routing
}

// New builds a Dispatcher over its required collaborators. fakeIP may be
// nil when the FakeIP resolver mode isn't enabled.
func New(resolver dns.Resolver, rt *router.Router, registry *outbound.Registry, trk *tracker.Tracker, fakeIP *dns.FakeIpPool) *Dispatcher {
	return &Dispatcher{
		Resolver:  resolver,
		Router:    rt,
		Registry:  registry,
		Tracker:   trk,
		SniffPeek: 4096,
		FakeIP:    fakeIP,
	}
}

// Dispatch runs the full sniff -> resolve -> route -> connect -> relay
// pipeline for one accepted session over conn. It blocks until the relay
// finishes or ctx is canceled.
func (d *Dispatcher) Dispatch(ctx context.Context, conn Conn, sess address.Session) error {
	reader := bufio.NewReaderSize(conn, max(d.SniffPeek, 1))
	sess = d.sniffSession(reader, sess)

	resolved, err := d.resolveSession(ctx, sess)
	if err != nil {
		d.Tracker.RecordError(errkind.KindResolveFailed)
		return errkind.Wrap(err, errkind.KindResolveFailed, "dispatcher: resolve failed")
	}

	decision := d.Router.Route(toRouterSession(resolved))
	if decision.Reject {
		d.Tracker.RecordRouteHit(decision.MatchedRule)
		return errkind.New(errkind.KindRejected, "dispatcher: rejected by rule "+decision.MatchedRule)
	}
	d.Tracker.RecordRouteHit(decision.MatchedRule)

	handler, ok := d.Registry.Get(decision.Outbound)
	if !ok {
		d.Tracker.RecordError(errkind.KindRouteNoOutbound)
		return errkind.Errorf(errkind.KindRouteNoOutbound, "dispatcher: unknown outbound %q", decision.Outbound)
	}

	guard := d.Tracker.Track(resolved, decision.Outbound, decision.MatchedRule, decision.MatchedRule, nil)
	defer guard.Close()

	upstream, err := d.connect(ctx, handler, resolved)
	if err != nil {
		d.Tracker.RecordError(errkind.KindOutboundConnect)
		return errkind.Wrap(err, errkind.KindOutboundConnect, "dispatcher: outbound connect failed")
	}
	defer upstream.Close()

	client := &bufferedConn{Conn: conn, r: reader}
	if err := relay.Run(client, upstream, guard); err != nil {
		d.Tracker.RecordError(errkind.KindRelayIO)
		return errkind.Wrap(err, errkind.KindRelayIO, "dispatcher: relay failed")
	}
	return nil
}

func (d *Dispatcher) connect(ctx context.Context, h outbound.Handler, sess address.Session) (relay.Stream, error) {
	if sess.Network == address.UDP {
		t, err := h.ConnectUDP(ctx, sess)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return h.Connect(ctx, sess)
}

// sniffSession peeks the configured number of bytes without consuming them
// from the caller's perspective (bufferedConn replays them on Read), and
// applies the first matching sniffer's domain per the session's
// SniffOverride policy.
func (d *Dispatcher) sniffSession(reader *bufio.Reader, sess address.Session) address.Session {
	if !sess.Sniff || d.SniffPeek <= 0 {
		return sess
	}
	peeked, err := reader.Peek(d.SniffPeek)
	if err != nil && len(peeked) == 0 {
		return sess
	}

	sniffers := sniff.StreamSniffers
	if sess.Network == address.UDP {
		sniffers = sniff.PacketSniffers
	}
	res, ok := sniff.Detect(sniffers, peeked)
	if !ok || res.Domain == "" {
		return sess
	}
	return sess.WithSniffedDomain(res.Domain, res.Protocol)
}

// resolveSession recovers a FakeIP target's original domain via reverse
// lookup so the router can match domain rules against it; any other
// target (a domain, or a plain IP outside the FakeIP range) is left
// exactly as the inbound produced it, and forward resolution is deferred
// to whichever outbound ends up handling the connection (e.g.
// Direct.Connect's own net.Dialer.DialContext).
func (d *Dispatcher) resolveSession(ctx context.Context, sess address.Session) (address.Session, error) {
	target := sess.Target
	if !target.IsIP() || d.FakeIP == nil || !d.FakeIP.Contains(target.IP()) {
		return sess, nil
	}

	domain, ok := d.FakeIP.Lookup(target.IP())
	if !ok {
		return sess, nil
	}

	out := sess
	out.Target = target.WithDomain(domain)
	out.RouteTarget = out.Target
	return out, nil
}

func toRouterSession(sess address.Session) router.Session {
	return router.Session{Session: sess}
}

// bufferedConn replays any bytes sniff already buffered from reader before
// falling through to the underlying connection, so the sniff peek never
// loses the client's first flight of bytes.
type bufferedConn struct {
	Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }
