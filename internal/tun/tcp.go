// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tun

import (
	"context"
	"net/netip"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/adapters/gonet"
	"gvisor.dev/gvisor/pkg/tcpip/transport/tcp"
	"gvisor.dev/gvisor/pkg/waiter"

	"nyx.sh/core/internal/address"
	"nyx.sh/core/internal/logging"
)

// acceptTCP is netstack's TCP forwarder callback: one SYN segment, per
// §4.4.5. The handshake itself (seq/ack construction, SYN-ACK) is the
// netstack's job; this only decides whether to admit the flow and, once
// admitted, builds the Session and hands the resulting stream to the
// dispatcher.
func (s *Stack) acceptTCP(r *tcp.ForwarderRequest) {
	id := r.ID()

	select {
	case s.tcpSlots <- struct{}{}:
	default:
		r.Complete(true) // resource exhausted: RST, drop silently per the error table
		return
	}

	var wq waiter.Queue
	ep, err := r.CreateEndpoint(&wq)
	if err != nil {
		<-s.tcpSlots
		r.Complete(true)
		return
	}
	r.Complete(false)

	conn := gonet.NewTCPConn(&wq, ep)
	dstAddr, ok := addrPortFromNetstack(id.LocalAddress, id.LocalPort)
	if !ok {
		<-s.tcpSlots
		conn.Close()
		return
	}
	srcAddr, _ := addrPortFromNetstack(id.RemoteAddress, id.RemotePort)

	go func() {
		defer func() { <-s.tcpSlots }()
		defer conn.Close()
		s.dispatchTCP(conn, srcAddr, dstAddr)
	}()
}

func (s *Stack) dispatchTCP(conn *gonet.TCPConn, src, dst netip.AddrPort) {
	target := address.FromIP(dst.Addr(), dst.Port())
	sess := address.NewSession(target, s.tag, address.TCP)
	sess.Source = &src
	sess.Sniff = s.cfg.Sniff

	if err := s.dispatch.Dispatch(context.Background(), conn, sess); err != nil {
		logging.Debug("tun: tcp dispatch %s -> %s failed: %v", src, dst, err)
	}
}

func addrPortFromNetstack(addr tcpip.Address, port uint16) (netip.AddrPort, bool) {
	ip, ok := netip.AddrFromSlice(addr.AsSlice())
	if !ok {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(ip.Unmap(), port), true
}
