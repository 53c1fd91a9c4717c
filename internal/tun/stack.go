// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tun

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"gvisor.dev/gvisor/pkg/buffer"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	"gvisor.dev/gvisor/pkg/tcpip/link/channel"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv6"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
	"gvisor.dev/gvisor/pkg/tcpip/transport/icmp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/tcp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/udp"

	"nyx.sh/core/internal/dns"
	"nyx.sh/core/internal/inbound"
	"nyx.sh/core/internal/logging"
)

const (
	nicID              tcpip.NICID = 1
	channelQueueLen                = 512
	tcpReceiveBuffer               = 0 // 0 asks netstack to pick its default
	maxInFlightTCP                 = 64
	maxReadErrBackoff              = 128 * time.Millisecond
	maxConsecutiveReadErrs         = 64
)

// Stack wires a Device, a gVisor netstack, and a dispatcher together,
// implementing §4.4's per-packet pipeline: loopback guard, DNS hijack,
// ICMP policy, and TCP/UDP flow handling. TCP/UDP state tracking (SynSent
// -> Established, segment sequencing, checksum construction) is delegated
// to the netstack itself rather than hand-rolled; this package owns the
// interception decisions (what gets hijacked before reaching the stack)
// and the bridge to the dispatcher.
type Stack struct {
	device   Device
	cfg      Config
	dispatch inbound.Dispatch
	resolver dns.Resolver
	tag      string

	ipstack *stack.Stack
	linkEP  *channel.Endpoint
	mtu     int

	tcpSlots chan struct{}
	udpSlots chan struct{}
}

// New builds a Stack bound to local. local is the TUN interface's own
// address/prefix (coreconfig.TUNConfig.Address/Netmask, parsed by the
// caller); the stack accepts and routes traffic for any destination, not
// just local, since its job is to intercept a virtual router's traffic.
func New(tag string, device Device, cfg Config, local netip.Prefix, dispatch inbound.Dispatch, resolver dns.Resolver) (*Stack, error) {
	mtu := device.MTU()
	if mtu <= 0 {
		mtu = 1500
	}

	transportProtos := []stack.TransportProtocolFactory{tcp.NewProtocol, udp.NewProtocol}
	if cfg.ICMPPolicy != "drop" {
		transportProtos = append(transportProtos, icmp.NewProtocol4, icmp.NewProtocol6)
	}

	ipstack := stack.New(stack.Options{
		NetworkProtocols:   []stack.NetworkProtocolFactory{ipv4.NewProtocol, ipv6.NewProtocol},
		TransportProtocols: transportProtos,
	})
	sackEnabled := tcpip.TCPSACKEnabled(true)
	if err := ipstack.SetTransportProtocolOption(tcp.ProtocolNumber, &sackEnabled); err != nil {
		return nil, fmt.Errorf("tun: enable tcp sack: %v", err)
	}

	linkEP := channel.New(channelQueueLen, uint32(mtu), "")
	if err := ipstack.CreateNIC(nicID, linkEP); err != nil {
		return nil, fmt.Errorf("tun: create nic: %v", err)
	}
	// The NIC must accept packets addressed anywhere, since a TUN
	// interface's whole purpose here is intercepting traffic the OS
	// routed to it rather than traffic addressed at one fixed IP.
	ipstack.SetPromiscuousMode(nicID, true)
	ipstack.SetSpoofing(nicID, true)

	if local.IsValid() {
		proto := ipv4.ProtocolNumber
		if local.Addr().Is6() {
			proto = ipv6.ProtocolNumber
		}
		pa := tcpip.ProtocolAddress{
			Protocol: proto,
			AddressWithPrefix: tcpip.AddressWithPrefix{
				Address:   tcpip.AddrFromSlice(local.Addr().AsSlice()),
				PrefixLen: local.Bits(),
			},
		}
		if err := ipstack.AddProtocolAddress(nicID, pa, stack.AddressProperties{}); err != nil {
			return nil, fmt.Errorf("tun: assign local address: %v", err)
		}
	}

	v4Zero, _ := tcpip.NewSubnet(tcpip.AddrFromSlice(make([]byte, 4)), tcpip.MaskFromBytes(make([]byte, 4)))
	v6Zero, _ := tcpip.NewSubnet(tcpip.AddrFromSlice(make([]byte, 16)), tcpip.MaskFromBytes(make([]byte, 16)))
	ipstack.SetRouteTable([]tcpip.Route{
		{Destination: v4Zero, NIC: nicID},
		{Destination: v6Zero, NIC: nicID},
	})

	s := &Stack{
		device:   device,
		cfg:      cfg,
		dispatch: dispatch,
		resolver: resolver,
		tag:      tag,
		ipstack:  ipstack,
		linkEP:   linkEP,
		mtu:      mtu,
		tcpSlots: make(chan struct{}, cfg.maxTCP()),
		udpSlots: make(chan struct{}, cfg.maxUDP()),
	}

	tcpFwd := tcp.NewForwarder(ipstack, tcpReceiveBuffer, maxInFlightTCP, s.acceptTCP)
	udpFwd := udp.NewForwarder(ipstack, s.acceptUDP)
	ipstack.SetTransportProtocolHandler(tcp.ProtocolNumber, tcpFwd.HandlePacket)
	ipstack.SetTransportProtocolHandler(udp.ProtocolNumber, udpFwd.HandlePacket)

	return s, nil
}

// Run drives both halves of the bridge: device reads injected into the
// netstack, and netstack writes flushed back out to the device. It blocks
// until ctx is canceled or the device read loop gives up after too many
// consecutive errors.
func (s *Stack) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.egressLoop(ctx)
	}()

	err := s.ingressLoop(ctx)

	s.linkEP.Close()
	<-done
	s.ipstack.Close()
	return err
}

// ingressLoop reads raw packets from the device, applies the loopback
// guard, and injects well-formed ones into the netstack.
func (s *Stack) ingressLoop(ctx context.Context) error {
	buf := make([]byte, s.mtu+header.IPv6MinimumSize)
	backoff := time.Duration(0)
	consecutiveErrs := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := s.device.ReadPacket(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			consecutiveErrs++
			if consecutiveErrs > maxConsecutiveReadErrs {
				return fmt.Errorf("tun: device read: too many consecutive errors: %w", err)
			}
			backoff = nextBackoff(backoff)
			logging.Warn("tun device read error (%d consecutive): %v", consecutiveErrs, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		consecutiveErrs = 0
		backoff = 0

		s.handlePacket(buf[:n])
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	if cur == 0 {
		return time.Millisecond
	}
	next := cur * 2
	if next > maxReadErrBackoff {
		return maxReadErrBackoff
	}
	return next
}

// handlePacket runs one raw packet through the loopback guard and (for UDP
// DNS traffic) the hijack short-circuit before handing it to the netstack.
func (s *Stack) handlePacket(raw []byte) {
	parsed, ok := parsePacket(raw)
	if !ok {
		return // malformed, drop
	}
	if loopbackBlocked(parsed, s.cfg.AllowLoopback) {
		return
	}
	if s.cfg.DNSHijackEnabled && parsed.Protocol == protoUDP && parsed.DstPort == 53 {
		if reply, handled := s.hijackDNS(raw, parsed); handled {
			if reply != nil {
				if err := s.device.WritePacket(reply); err != nil {
					logging.Debug("tun: dns hijack reply write failed: %v", err)
				}
			}
			return
		}
	}

	var proto tcpip.NetworkProtocolNumber
	switch parsed.Version {
	case 4:
		proto = header.IPv4ProtocolNumber
	case 6:
		proto = header.IPv6ProtocolNumber
	default:
		return
	}

	pkt := stack.NewPacketBuffer(stack.PacketBufferOptions{
		Payload: buffer.MakeWithData(append([]byte(nil), raw...)),
	})
	s.linkEP.InjectInbound(proto, pkt)
	pkt.DecRef()
}

// egressLoop flushes packets the netstack produced (SYN-ACKs, data
// segments, ACKs, synthesized replies) back out to the device.
func (s *Stack) egressLoop(ctx context.Context) {
	for {
		pkt := s.linkEP.ReadContext(ctx)
		if pkt == nil {
			return
		}
		view := stack.PayloadSince(pkt.NetworkHeader())
		pkt.DecRef()
		if err := s.device.WritePacket(view.AsSlice()); err != nil {
			logging.Debug("tun: device write failed: %v", err)
		}
	}
}
