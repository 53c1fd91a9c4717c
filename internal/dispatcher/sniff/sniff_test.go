// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sniff

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func buildClientHelloWithSNI(serverName string) []byte {
	var ext bytes.Buffer
	// server_name_list
	var nameList bytes.Buffer
	nameList.WriteByte(0) // host_name
	nameLen := make([]byte, 2)
	binary.BigEndian.PutUint16(nameLen, uint16(len(serverName)))
	nameList.Write(nameLen)
	nameList.WriteString(serverName)

	listLen := make([]byte, 2)
	binary.BigEndian.PutUint16(listLen, uint16(nameList.Len()))
	ext.Write(listLen)
	ext.Write(nameList.Bytes())

	var extensions bytes.Buffer
	extensions.Write([]byte{0x00, 0x00}) // extension type server_name
	extLen := make([]byte, 2)
	binary.BigEndian.PutUint16(extLen, uint16(ext.Len()))
	extensions.Write(extLen)
	extensions.Write(ext.Bytes())

	var body bytes.Buffer
	body.WriteByte(0x01)                  // client_hello
	body.Write([]byte{0x00, 0x00, 0x00})  // length placeholder, fixed below
	body.Write([]byte{0x03, 0x03})        // legacy_version
	body.Write(make([]byte, 32))          // random
	body.WriteByte(0)                     // session id len
	body.Write([]byte{0x00, 0x02, 0x13, 0x01}) // cipher suites
	body.WriteByte(1)                     // compression methods len
	body.WriteByte(0)                     // compression method
	extensionsLen := make([]byte, 2)
	binary.BigEndian.PutUint16(extensionsLen, uint16(extensions.Len()))
	body.Write(extensionsLen)
	body.Write(extensions.Bytes())

	raw := body.Bytes()
	handshakeLen := len(raw) - 4
	raw[1] = byte(handshakeLen >> 16)
	raw[2] = byte(handshakeLen >> 8)
	raw[3] = byte(handshakeLen)

	var record bytes.Buffer
	record.WriteByte(0x16) // handshake
	record.Write([]byte{0x03, 0x01})
	recordLen := make([]byte, 2)
	binary.BigEndian.PutUint16(recordLen, uint16(len(raw)))
	record.Write(recordLen)
	record.Write(raw)

	return record.Bytes()
}

func TestSniffTLSClientHelloExtractsSNI(t *testing.T) {
	data := buildClientHelloWithSNI("example.com")
	res, ok := SniffTLSClientHello(data)
	if !ok {
		t.Fatal("expected TLS ClientHello to be recognized")
	}
	if res.Domain != "example.com" || res.Protocol != "tls" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSniffHTTPHostExtractsHost(t *testing.T) {
	req := "GET / HTTP/1.1\r\nHost: example.org:8080\r\nUser-Agent: test\r\n\r\n"
	res, ok := SniffHTTPHost([]byte(req))
	if !ok {
		t.Fatal("expected HTTP request to be recognized")
	}
	if res.Domain != "example.org" || res.Protocol != "http" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSniffSSHBanner(t *testing.T) {
	if _, ok := SniffSSH([]byte("SSH-2.0-OpenSSH_9.0\r\n")); !ok {
		t.Fatal("expected SSH banner to be recognized")
	}
}

func TestSniffBitTorrentHandshake(t *testing.T) {
	data := append([]byte{19}, []byte("BitTorrent protocol")...)
	if _, ok := SniffBitTorrent(data); !ok {
		t.Fatal("expected BitTorrent handshake to be recognized")
	}
}

func TestSniffSTUNMagicCookie(t *testing.T) {
	data := make([]byte, 20)
	binary.BigEndian.PutUint32(data[4:8], 0x2112A442)
	if _, ok := SniffSTUN(data); !ok {
		t.Fatal("expected STUN message to be recognized")
	}
}

func TestSniffQUICLongHeaderInitial(t *testing.T) {
	data := []byte{0xC3, 0, 0, 0, 1}
	if _, ok := SniffQUICClientHello(data); !ok {
		t.Fatal("expected QUIC Initial packet to be recognized")
	}
}

func TestDetectFallsThroughUnrecognized(t *testing.T) {
	if _, ok := Detect(StreamSniffers, []byte("garbage")); ok {
		t.Fatal("expected no sniffer to match arbitrary bytes")
	}
}
