// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tun

import (
	"context"
	"strings"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/miekg/dns"

	coredns "nyx.sh/core/internal/dns"
	"nyx.sh/core/internal/logging"
)

const dnsHijackTimeout = 4 * time.Second

// hijackDNS intercepts a UDP packet addressed to port 53, resolves the
// single embedded question through the core resolver, and synthesizes a
// reply packet with src/dst swapped. handled is true whenever this packet
// should never reach the netstack, regardless of whether resolution
// succeeded: a DNS query that fails to parse or resolve is dropped, not
// forwarded onward as an opaque UDP flow.
func (s *Stack) hijackDNS(raw []byte, parsed ParsedPacket) (reply []byte, handled bool) {
	query, ok := extractUDPPayload(raw, parsed.Version)
	if !ok {
		return nil, false
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(query); err != nil || len(msg.Question) != 1 {
		return nil, true
	}

	answer, err := s.resolveQuestion(msg.Question[0])
	if err != nil {
		logging.Debug("tun: dns hijack resolve %s failed: %v", msg.Question[0].Name, err)
		return nil, true
	}

	out := new(dns.Msg)
	out.SetReply(msg)
	out.Answer = answer

	packed, err := out.Pack()
	if err != nil {
		logging.Debug("tun: dns hijack pack reply: %v", err)
		return nil, true
	}

	synthesized, err := synthesizeUDPReply(parsed, packed)
	if err != nil {
		logging.Debug("tun: dns hijack synthesize reply: %v", err)
		return nil, true
	}
	return synthesized, true
}

func (s *Stack) resolveQuestion(q dns.Question) ([]dns.RR, error) {
	host := strings.TrimSuffix(q.Name, ".")
	network := ""
	switch q.Qtype {
	case dns.TypeA:
		network = "ip4"
	case dns.TypeAAAA:
		network = "ip6"
	default:
		return nil, coredns.ErrNoRecords
	}

	ctx, cancel := context.WithTimeout(context.Background(), dnsHijackTimeout)
	defer cancel()
	addrs, err := s.resolver.Resolve(ctx, host, network)
	if err != nil {
		return nil, err
	}

	out := make([]dns.RR, 0, len(addrs))
	for _, addr := range addrs {
		if q.Qtype == dns.TypeA && addr.Is4() {
			out = append(out, &dns.A{Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60}, A: addr.AsSlice()})
		}
		if q.Qtype == dns.TypeAAAA && addr.Is6() && !addr.Is4In6() {
			out = append(out, &dns.AAAA{Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 60}, AAAA: addr.AsSlice()})
		}
	}
	return out, nil
}

// extractUDPPayload decodes raw down to its UDP application payload.
func extractUDPPayload(raw []byte, version int) ([]byte, bool) {
	layerType := gopacket.LayerType(layers.LayerTypeIPv4)
	if version == 6 {
		layerType = layers.LayerTypeIPv6
	}
	pkt := gopacket.NewPacket(raw, layerType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, false
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok {
		return nil, false
	}
	return udp.Payload, true
}

// synthesizeUDPReply builds a complete IPv4 or IPv6 + UDP packet carrying
// payload, with src/dst swapped relative to the original request in
// parsed, correct lengths, and checksums filled in by gopacket.
func synthesizeUDPReply(parsed ParsedPacket, payload []byte) ([]byte, error) {
	udpLayer := &layers.UDP{SrcPort: layers.UDPPort(parsed.DstPort), DstPort: layers.UDPPort(parsed.SrcPort)}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	if parsed.Version == 4 {
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Flags:    layers.IPv4DontFragment,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    parsed.Dst.AsSlice(),
			DstIP:    parsed.Src.AsSlice(),
		}
		if err := udpLayer.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		if err := gopacket.SerializeLayers(buf, opts, ip, udpLayer, gopacket.Payload(payload)); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      parsed.Dst.AsSlice(),
		DstIP:      parsed.Src.AsSlice(),
	}
	if err := udpLayer.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	if err := gopacket.SerializeLayers(buf, opts, ip, udpLayer, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
