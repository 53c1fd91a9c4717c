// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sniff

import "encoding/binary"

// SniffTLSClientHello parses just enough of a TLS record to recover the
// SNI extension's server name, without terminating the handshake: record
// header, handshake header, legacy version/random/session-id, cipher
// suites, compression methods, then a linear scan of extensions for type 0
// (server_name). No stdlib or pack TLS library exposes ClientHello
// extension parsing without completing a handshake, so this walks the
// wire format directly, mirroring the fixed-header-then-length-prefixed
// parsing idiom used elsewhere in this core for binary protocols.
func SniffTLSClientHello(data []byte) (Result, bool) {
	if len(data) < 5 || data[0] != 0x16 { // handshake record type
		return Result{}, false
	}
	recordLen := int(binary.BigEndian.Uint16(data[3:5]))
	if len(data) < 5+recordLen {
		return Result{}, false
	}
	body := data[5 : 5+recordLen]

	if len(body) < 4 || body[0] != 0x01 { // client_hello handshake type
		return Result{}, false
	}
	pos := 4 // handshake type(1) + length(3), already bounds-checked via recordLen
	if len(body) < pos+2+32 {
		return Result{}, false
	}
	pos += 2  // legacy_version
	pos += 32 // random

	if len(body) < pos+1 {
		return Result{}, false
	}
	sessionIDLen := int(body[pos])
	pos += 1 + sessionIDLen

	if len(body) < pos+2 {
		return Result{}, false
	}
	cipherSuitesLen := int(binary.BigEndian.Uint16(body[pos : pos+2]))
	pos += 2 + cipherSuitesLen

	if len(body) < pos+1 {
		return Result{}, false
	}
	compressionLen := int(body[pos])
	pos += 1 + compressionLen

	if len(body) < pos+2 {
		return Result{}, false
	}
	extensionsLen := int(binary.BigEndian.Uint16(body[pos : pos+2]))
	pos += 2
	if len(body) < pos+extensionsLen {
		return Result{}, false
	}
	extensions := body[pos : pos+extensionsLen]

	for len(extensions) >= 4 {
		extType := binary.BigEndian.Uint16(extensions[0:2])
		extLen := int(binary.BigEndian.Uint16(extensions[2:4]))
		if len(extensions) < 4+extLen {
			return Result{}, false
		}
		extBody := extensions[4 : 4+extLen]
		if extType == 0 { // server_name
			if domain, ok := parseServerNameExtension(extBody); ok {
				return Result{Domain: domain, Protocol: "tls"}, true
			}
		}
		extensions = extensions[4+extLen:]
	}
	return Result{}, false
}

func parseServerNameExtension(body []byte) (string, bool) {
	if len(body) < 2 {
		return "", false
	}
	listLen := int(binary.BigEndian.Uint16(body[0:2]))
	entries := body[2:]
	if len(entries) < listLen {
		return "", false
	}
	entries = entries[:listLen]

	for len(entries) >= 3 {
		nameType := entries[0]
		nameLen := int(binary.BigEndian.Uint16(entries[1:3]))
		if len(entries) < 3+nameLen {
			return "", false
		}
		if nameType == 0 { // host_name
			return string(entries[3 : 3+nameLen]), true
		}
		entries = entries[3+nameLen:]
	}
	return "", false
}
