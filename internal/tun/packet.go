// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tun

import (
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// protocolNumber mirrors the IANA protocol numbers ParsedPacket cares about;
// named here rather than importing layers.IPProtocolTCP at every call site.
const (
	protoTCP  = 6
	protoUDP  = 17
	protoICMP = 1
)

// ParsedPacket is the per-packet header summary the stack's ingress loop
// extracts before handing the raw bytes to gVisor, used for the loopback
// guard and for the DNS-hijack/ICMP-policy branches, which all need to
// decide before the netstack TCP/UDP state machine ever runs.
type ParsedPacket struct {
	Version    int
	Protocol   int
	Src        netip.Addr
	Dst        netip.Addr
	SrcPort    uint16
	DstPort    uint16
	TotalLen   int
}

// parsePacket decodes an IPv4 or IPv6 packet's network and transport
// headers without copying the payload. It returns ok=false for anything
// that isn't a well-formed IPv4/IPv6 packet, which the caller drops.
func parsePacket(raw []byte) (ParsedPacket, bool) {
	if len(raw) < 1 {
		return ParsedPacket{}, false
	}
	version := int(raw[0] >> 4)
	var layerType gopacket.LayerType
	switch version {
	case 4:
		layerType = layers.LayerTypeIPv4
	case 6:
		layerType = layers.LayerTypeIPv6
	default:
		return ParsedPacket{}, false
	}

	pkt := gopacket.NewPacket(raw, layerType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	netLayer := pkt.NetworkLayer()
	if netLayer == nil {
		return ParsedPacket{}, false
	}

	out := ParsedPacket{Version: version, TotalLen: len(raw)}
	switch nl := netLayer.(type) {
	case *layers.IPv4:
		src, ok1 := netip.AddrFromSlice(nl.SrcIP.To4())
		dst, ok2 := netip.AddrFromSlice(nl.DstIP.To4())
		if !ok1 || !ok2 {
			return ParsedPacket{}, false
		}
		out.Src, out.Dst = src, dst
		out.Protocol = int(nl.Protocol)
	case *layers.IPv6:
		src, ok1 := netip.AddrFromSlice(nl.SrcIP.To16())
		dst, ok2 := netip.AddrFromSlice(nl.DstIP.To16())
		if !ok1 || !ok2 {
			return ParsedPacket{}, false
		}
		out.Src, out.Dst = src, dst
		out.Protocol = int(nl.NextHeader)
	default:
		return ParsedPacket{}, false
	}

	if tl := pkt.TransportLayer(); tl != nil {
		switch tLayer := tl.(type) {
		case *layers.TCP:
			out.SrcPort, out.DstPort = uint16(tLayer.SrcPort), uint16(tLayer.DstPort)
		case *layers.UDP:
			out.SrcPort, out.DstPort = uint16(tLayer.SrcPort), uint16(tLayer.DstPort)
		}
	}
	return out, true
}

// loopbackBlocked reports whether p should be dropped under the loopback
// guard: src or dst is a loopback address and the stack isn't configured
// to allow it.
func loopbackBlocked(p ParsedPacket, allow bool) bool {
	if allow {
		return false
	}
	return p.Src.IsLoopback() || p.Dst.IsLoopback()
}
