// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sniff

import "encoding/binary"

// SniffSSH recognizes the plaintext SSH version-exchange banner
// ("SSH-2.0-..."), sent before any encryption begins. No domain is
// recoverable, only the protocol tag for rule matching.
func SniffSSH(data []byte) (Result, bool) {
	if len(data) >= 4 && string(data[:4]) == "SSH-" {
		return Result{Protocol: "ssh"}, true
	}
	return Result{}, false
}

// SniffBitTorrent recognizes the BitTorrent peer-wire handshake's fixed
// "\x13BitTorrent protocol" pstr preamble.
func SniffBitTorrent(data []byte) (Result, bool) {
	const pstr = "BitTorrent protocol"
	if len(data) >= 1+len(pstr) && data[0] == byte(len(pstr)) && string(data[1:1+len(pstr)]) == pstr {
		return Result{Protocol: "bittorrent"}, true
	}
	return Result{}, false
}

// SniffSTUN recognizes a STUN message by its fixed magic cookie at bytes
// 4:8 (RFC 5389), used to distinguish STUN keepalives from DTLS/SRTP on
// the same UDP 5-tuple.
func SniffSTUN(data []byte) (Result, bool) {
	const magicCookie = 0x2112A442
	if len(data) < 20 {
		return Result{}, false
	}
	if binary.BigEndian.Uint32(data[4:8]) == magicCookie {
		return Result{Protocol: "stun"}, true
	}
	return Result{}, false
}

// SniffDTLSClientHello recognizes a DTLS handshake record by content type
// 22 and a DTLS version major byte of 0xfe (~TLS's version-negation
// convention, inverted for backwards-compat signaling).
func SniffDTLSClientHello(data []byte) (Result, bool) {
	if len(data) >= 3 && data[0] == 22 && data[1] == 0xfe {
		return Result{Protocol: "dtls"}, true
	}
	return Result{}, false
}

// SniffQUICClientHello recognizes a QUIC long-header Initial packet
// (RFC 9000 form bit set, long-header, Initial packet type). Extracting
// the SNI requires removing Initial-packet header protection and parsing
// the embedded TLS ClientHello CRYPTO frame, out of scope for this probe:
// it reports the protocol only, letting rules match on "network:udp" plus
// destination port 443 instead of a sniffed host.
func SniffQUICClientHello(data []byte) (Result, bool) {
	if len(data) < 5 {
		return Result{}, false
	}
	firstByte := data[0]
	if firstByte&0x80 == 0 { // not a long header
		return Result{}, false
	}
	packetType := (firstByte & 0x30) >> 4
	if packetType != 0 { // not Initial
		return Result{}, false
	}
	return Result{Protocol: "quic"}, true
}
