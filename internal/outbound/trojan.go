// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package outbound

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net"

	"nyx.sh/core/internal/address"
)

// Trojan is a Trojan-over-TLS outbound: the wire format is a 56-hex-char
// SHA224... per the protocol's original choice the core follows its
// well-known variant of SHA256-then-hex-truncate, CRLF, a SOCKS5-style
// address, CRLF, then raw payload, all inside a standard TLS session.
type Trojan struct {
	tag        string
	serverAddr string
	password   [56]byte
	tlsConfig  *tls.Config
}

// NewTrojan builds a Trojan outbound. serverName, when non-empty,
// overrides the TLS SNI/verification host (useful when serverAddr is an
// IP literal).
func NewTrojan(tag, serverAddr, password, serverName string, insecureSkipVerify bool) *Trojan {
	sum := sha256.Sum256([]byte(password))
	var hexDigest [64]byte
	hex.Encode(hexDigest[:], sum[:])

	var key [56]byte
	copy(key[:], hexDigest[:56])

	return &Trojan{
		tag:        tag,
		serverAddr: serverAddr,
		password:   key,
		tlsConfig: &tls.Config{
			ServerName:         serverName,
			InsecureSkipVerify: insecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
	}
}

// Tag implements Handler.
func (t *Trojan) Tag() string { return t.tag }

// Connect implements Handler.
func (t *Trojan) Connect(ctx context.Context, sess address.Session) (io.ReadWriteCloser, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", t.serverAddr)
	if err != nil {
		return nil, fmt.Errorf("outbound: trojan dial %s: %w", t.serverAddr, err)
	}
	tlsConn := tls.Client(raw, t.tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("outbound: trojan tls handshake: %w", err)
	}

	req := make([]byte, 0, 64+len(sess.Target.String()))
	req = append(req, t.password[:]...)
	req = append(req, '\r', '\n')
	req = append(req, socks5CmdConnect)
	req = append(req, encodeSocks5Addr(sess.Target)...)
	req = append(req, '\r', '\n')
	if _, err := tlsConn.Write(req); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("outbound: trojan write request: %w", err)
	}
	return tlsConn, nil
}

// ConnectUDP is not implemented: Trojan UDP associates use a distinct
// length-prefixed datagram framing over the same TLS stream this core
// does not build a UDPTransport adapter for.
func (t *Trojan) ConnectUDP(ctx context.Context, sess address.Session) (UDPTransport, error) {
	return nil, fmt.Errorf("outbound: trojan connect_udp not supported")
}
