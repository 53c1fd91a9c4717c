// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tun

import (
	"context"
	"net/netip"
	"time"

	"gvisor.dev/gvisor/pkg/tcpip/adapters/gonet"
	"gvisor.dev/gvisor/pkg/tcpip/transport/udp"
	"gvisor.dev/gvisor/pkg/waiter"

	"nyx.sh/core/internal/address"
	"nyx.sh/core/internal/logging"
)

const defaultUDPIdleTimeout = 300 * time.Second

// acceptUDP is netstack's UDP forwarder callback. Per §4.4.6, traffic not
// already diverted by the packet-level DNS hijack in handlePacket is
// dispatched like any other session; idle reaping is handled by
// idleUDPConn rather than the generic relay package, since a UDP session
// has no EOF to signal the pump should stop.
func (s *Stack) acceptUDP(r *udp.ForwarderRequest) {
	id := r.ID()

	select {
	case s.udpSlots <- struct{}{}:
	default:
		return // resource exhausted: drop silently
	}

	var wq waiter.Queue
	ep, err := r.CreateEndpoint(&wq)
	if err != nil {
		<-s.udpSlots
		return
	}

	dstAddr, ok := addrPortFromNetstack(id.LocalAddress, id.LocalPort)
	if !ok {
		<-s.udpSlots
		ep.Close()
		return
	}
	srcAddr, _ := addrPortFromNetstack(id.RemoteAddress, id.RemotePort)

	conn := gonet.NewUDPConn(&wq, ep)
	idle := s.udpIdleTimeout()
	wrapped := newIdleConn(conn, idle)

	go func() {
		defer func() { <-s.udpSlots }()
		defer wrapped.Close()
		s.dispatchUDP(wrapped, srcAddr, dstAddr)
	}()
}

func (s *Stack) udpIdleTimeout() time.Duration {
	if s.cfg.UDPIdleTimeout > 0 {
		return time.Duration(s.cfg.UDPIdleTimeout) * time.Second
	}
	return defaultUDPIdleTimeout
}

func (s *Stack) dispatchUDP(conn *idleConn, src, dst netip.AddrPort) {
	target := address.FromIP(dst.Addr(), dst.Port())
	sess := address.NewSession(target, s.tag, address.UDP)
	sess.Source = &src

	if err := s.dispatch.Dispatch(context.Background(), conn, sess); err != nil {
		logging.Debug("tun: udp dispatch %s -> %s failed: %v", src, dst, err)
	}
}

// idleConn wraps a net.Conn-like stream, resetting an absolute deadline on
// every successful Read/Write so an inactive session's next operation
// times out instead of blocking forever, satisfying the idle-reap
// requirement without a separate timer goroutine.
type idleConn struct {
	*gonet.UDPConn
	idle time.Duration
}

func newIdleConn(c *gonet.UDPConn, idle time.Duration) *idleConn {
	ic := &idleConn{UDPConn: c, idle: idle}
	ic.extend()
	return ic
}

func (c *idleConn) extend() {
	c.UDPConn.SetDeadline(time.Now().Add(c.idle))
}

func (c *idleConn) Read(p []byte) (int, error) {
	n, err := c.UDPConn.Read(p)
	if err == nil {
		c.extend()
	}
	return n, err
}

func (c *idleConn) Write(p []byte) (int, error) {
	n, err := c.UDPConn.Write(p)
	if err == nil {
		c.extend()
	}
	return n, err
}
