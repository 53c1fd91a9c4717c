// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package outbound

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"nyx.sh/core/internal/address"
)

// HTTPConnect issues an HTTP CONNECT request over stream and returns it
// unwrapped once the peer answers 2xx, matching the ConnectFunc contract a
// Chain hop uses to tunnel through an HTTP proxy.
func HTTPConnect(ctx context.Context, stream io.ReadWriteCloser, target address.Address) (io.ReadWriteCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodConnect, "http://"+target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Host = target.String()
	if err := req.Write(stream); err != nil {
		return nil, fmt.Errorf("outbound: write CONNECT request: %w", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(stream), req)
	if err != nil {
		return nil, fmt.Errorf("outbound: read CONNECT response: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("outbound: CONNECT rejected: %s", resp.Status)
	}
	return stream, nil
}

// socks5 reply codes this core cares about.
const (
	socks5Version    = 0x05
	socks5CmdConnect = 0x01
	socks5AtypIPv4   = 0x01
	socks5AtypDomain = 0x03
	socks5AtypIPv6   = 0x04
	socks5ReplyOK    = 0x00
)

// SOCKS5Connect issues a no-auth SOCKS5 CONNECT request over stream.
// Grounded on the same request/reply shape the inbound SOCKS5 listener
// parses in reverse (see internal/inbound's handshake).
func SOCKS5Connect(ctx context.Context, stream io.ReadWriteCloser, target address.Address) (io.ReadWriteCloser, error) {
	if _, err := stream.Write([]byte{socks5Version, 0x01, 0x00}); err != nil {
		return nil, fmt.Errorf("outbound: socks5 greeting: %w", err)
	}
	reply := make([]byte, 2)
	if _, err := io.ReadFull(stream, reply); err != nil {
		return nil, fmt.Errorf("outbound: socks5 greeting reply: %w", err)
	}
	if reply[0] != socks5Version || reply[1] != 0x00 {
		return nil, fmt.Errorf("outbound: socks5 server requires unsupported auth method %d", reply[1])
	}

	req := []byte{socks5Version, socks5CmdConnect, 0x00}
	req = append(req, encodeSocks5Addr(target)...)
	if _, err := stream.Write(req); err != nil {
		return nil, fmt.Errorf("outbound: socks5 connect request: %w", err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(stream, header); err != nil {
		return nil, fmt.Errorf("outbound: socks5 connect reply header: %w", err)
	}
	if header[1] != socks5ReplyOK {
		return nil, fmt.Errorf("outbound: socks5 connect rejected, code %d", header[1])
	}
	if err := discardSocks5BoundAddr(stream, header[3]); err != nil {
		return nil, err
	}
	return stream, nil
}

func encodeSocks5Addr(a address.Address) []byte {
	if a.IsIP() {
		ip := a.IP()
		if ip.Is4() {
			b := append([]byte{socks5AtypIPv4}, ip.AsSlice()...)
			return appendPort(b, a.Port())
		}
		b := append([]byte{socks5AtypIPv6}, ip.AsSlice()...)
		return appendPort(b, a.Port())
	}
	domain := a.Domain()
	b := []byte{socks5AtypDomain, byte(len(domain))}
	b = append(b, domain...)
	return appendPort(b, a.Port())
}

func appendPort(b []byte, port uint16) []byte {
	return append(b, byte(port>>8), byte(port))
}

func discardSocks5BoundAddr(r io.Reader, atyp byte) error {
	var n int
	switch atyp {
	case socks5AtypIPv4:
		n = net.IPv4len
	case socks5AtypIPv6:
		n = net.IPv6len
	case socks5AtypDomain:
		lb := make([]byte, 1)
		if _, err := io.ReadFull(r, lb); err != nil {
			return err
		}
		n = int(lb[0])
	default:
		return fmt.Errorf("outbound: unknown socks5 bound address type %d", atyp)
	}
	buf := make([]byte, n+2) // address + port
	_, err := io.ReadFull(r, buf)
	return err
}
