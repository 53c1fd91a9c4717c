// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tun

import (
	"context"
	"net/netip"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	miekgdns "github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	coredns "nyx.sh/core/internal/dns"
)

func buildIPv4TCP(t *testing.T, src, dst netip.Addr, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: src.AsSlice(), DstIP: dst.AsSlice()}
	tcpLayer := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), SYN: true, Window: 65535}
	require.NoError(t, tcpLayer.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip, tcpLayer, gopacket.Payload(payload)))
	return buf.Bytes()
}

func buildIPv4UDP(t *testing.T, src, dst netip.Addr, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: src.AsSlice(), DstIP: dst.AsSlice()}
	udpLayer := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udpLayer.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip, udpLayer, gopacket.Payload(payload)))
	return buf.Bytes()
}

func TestParsePacketIPv4TCP(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.2")
	dst := netip.MustParseAddr("1.1.1.1")
	raw := buildIPv4TCP(t, src, dst, 50000, 443, nil)

	parsed, ok := parsePacket(raw)
	require.True(t, ok)
	require.Equal(t, 4, parsed.Version)
	require.Equal(t, protoTCP, parsed.Protocol)
	require.Equal(t, src, parsed.Src)
	require.Equal(t, dst, parsed.Dst)
	require.Equal(t, uint16(50000), parsed.SrcPort)
	require.Equal(t, uint16(443), parsed.DstPort)
}

func TestParsePacketRejectsMalformed(t *testing.T) {
	_, ok := parsePacket([]byte{0x00})
	require.False(t, ok)
}

func TestLoopbackBlocked(t *testing.T) {
	p := ParsedPacket{Src: netip.MustParseAddr("127.0.0.1"), Dst: netip.MustParseAddr("1.1.1.1")}
	require.True(t, loopbackBlocked(p, false))
	require.False(t, loopbackBlocked(p, true))

	p2 := ParsedPacket{Src: netip.MustParseAddr("10.0.0.2"), Dst: netip.MustParseAddr("1.1.1.1")}
	require.False(t, loopbackBlocked(p2, false))
}

func TestSynthesizeUDPReplySwapsAddresses(t *testing.T) {
	client := netip.MustParseAddr("10.0.0.2")
	server := netip.MustParseAddr("10.0.0.1")
	parsed := ParsedPacket{Version: 4, Src: client, Dst: server, SrcPort: 50000, DstPort: 53}

	reply, err := synthesizeUDPReply(parsed, []byte("payload"))
	require.NoError(t, err)

	pkt := gopacket.NewPacket(reply, layers.LayerTypeIPv4, gopacket.DecodeOptions{Lazy: true})
	ip, ok := pkt.NetworkLayer().(*layers.IPv4)
	require.True(t, ok)
	require.Equal(t, server.AsSlice(), []byte(ip.SrcIP.To4()))
	require.Equal(t, client.AsSlice(), []byte(ip.DstIP.To4()))

	udpLayer, ok := pkt.TransportLayer().(*layers.UDP)
	require.True(t, ok)
	require.Equal(t, layers.UDPPort(53), udpLayer.SrcPort)
	require.Equal(t, layers.UDPPort(50000), udpLayer.DstPort)
	require.Equal(t, []byte("payload"), udpLayer.Payload)
}

func TestHijackDNSBuildsReply(t *testing.T) {
	client := netip.MustParseAddr("10.0.0.2")
	server := netip.MustParseAddr("10.0.0.1")

	query := new(miekgdns.Msg)
	query.SetQuestion("example.com.", miekgdns.TypeA)
	packed, err := query.Pack()
	require.NoError(t, err)

	raw := buildIPv4UDP(t, client, server, 50000, 53, packed)
	parsed, ok := parsePacket(raw)
	require.True(t, ok)

	resolver := coredns.ResolverFunc(func(ctx context.Context, host, network string) ([]netip.Addr, error) {
		require.Equal(t, "example.com", host)
		require.Equal(t, "ip4", network)
		return []netip.Addr{netip.MustParseAddr("93.184.216.34")}, nil
	})
	s := &Stack{resolver: resolver}

	reply, handled := s.hijackDNS(raw, parsed)
	require.True(t, handled)
	require.NotNil(t, reply)

	pkt := gopacket.NewPacket(reply, layers.LayerTypeIPv4, gopacket.DecodeOptions{Lazy: true})
	udpLayer, ok := pkt.TransportLayer().(*layers.UDP)
	require.True(t, ok)

	out := new(miekgdns.Msg)
	require.NoError(t, out.Unpack(udpLayer.Payload))
	require.Len(t, out.Answer, 1)
	a, ok := out.Answer[0].(*miekgdns.A)
	require.True(t, ok)
	require.Equal(t, "93.184.216.34", a.A.String())
}

func TestHijackDNSDropsMultiQuestion(t *testing.T) {
	client := netip.MustParseAddr("10.0.0.2")
	server := netip.MustParseAddr("10.0.0.1")

	query := new(miekgdns.Msg)
	query.Question = []miekgdns.Question{
		{Name: "a.com.", Qtype: miekgdns.TypeA, Qclass: miekgdns.ClassINET},
		{Name: "b.com.", Qtype: miekgdns.TypeA, Qclass: miekgdns.ClassINET},
	}
	packed, err := query.Pack()
	require.NoError(t, err)

	raw := buildIPv4UDP(t, client, server, 50000, 53, packed)
	parsed, ok := parsePacket(raw)
	require.True(t, ok)

	s := &Stack{}
	_, handled := s.hijackDNS(raw, parsed)
	require.True(t, handled)
}
