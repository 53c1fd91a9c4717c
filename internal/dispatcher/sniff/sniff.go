// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package sniff implements protocol detection over the first bytes of a
// freshly-accepted stream or datagram, letting the dispatcher recover the
// real destination domain behind an IP-only (or FakeIP) target before
// routing. Every sniffer takes a byte slice and returns (domain, ok) or
// reports itself inapplicable; none of them consume from the connection
// directly; that's the dispatcher's job via a buffered peek.
package sniff

// Result is what a successful sniff recovers.
type Result struct {
	Domain   string
	Protocol string
}

// Sniffer inspects a byte slice already read from the start of a stream
// (or a single datagram) and reports a detected domain, if any.
type Sniffer func(data []byte) (Result, bool)

// StreamSniffers runs in dispatcher order against TCP payloads.
var StreamSniffers = []Sniffer{
	SniffTLSClientHello,
	SniffHTTPHost,
	SniffSSH,
	SniffBitTorrent,
}

// PacketSniffers runs against a single UDP datagram.
var PacketSniffers = []Sniffer{
	SniffQUICClientHello,
	SniffSTUN,
	SniffDTLSClientHello,
}

// Detect runs sniffers in order and returns the first match.
func Detect(sniffers []Sniffer, data []byte) (Result, bool) {
	for _, s := range sniffers {
		if res, ok := s(data); ok {
			return res, true
		}
	}
	return Result{}, false
}
