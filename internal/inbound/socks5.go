// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package inbound

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"

	"nyx.sh/core/internal/address"
	"nyx.sh/core/internal/logging"
)

const (
	socks5Version    = 0x05
	socks5CmdConnect = 0x01
	socks5CmdUDP     = 0x03
	socks5AtypIPv4   = 0x01
	socks5AtypDomain = 0x03
	socks5AtypIPv6   = 0x04
	socks5ReplyOK    = 0x00
	socks5ReplyFail  = 0x01
)

// SOCKS5Listener accepts plain no-auth SOCKS5 CONNECT requests and hands
// the decoded target to a Dispatch. The wire parsing mirrors, in reverse,
// the client-side request the outbound package's SOCKS5Connect writes.
type SOCKS5Listener struct {
	tag      string
	listener net.Listener
	dispatch Dispatch
}

// NewSOCKS5Listener binds addr and returns a listener tagged tag.
func NewSOCKS5Listener(tag, addr string, dispatch Dispatch) (*SOCKS5Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("inbound: socks5 listen %s: %w", addr, err)
	}
	return &SOCKS5Listener{tag: tag, listener: ln, dispatch: dispatch}, nil
}

// Tag implements Listener.
func (s *SOCKS5Listener) Tag() string { return s.tag }

// Close implements Listener.
func (s *SOCKS5Listener) Close() error { return s.listener.Close() }

// Serve implements Listener.
func (s *SOCKS5Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("inbound: socks5 accept: %w", err)
		}
		go s.handle(ctx, conn)
	}
}

func (s *SOCKS5Listener) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	target, err := socks5Handshake(conn)
	if err != nil {
		logging.Debug("socks5 handshake failed from %s: %v", conn.RemoteAddr(), err)
		return
	}

	source, _ := netip.ParseAddrPort(conn.RemoteAddr().String())
	sess := address.NewSession(target, s.tag, address.TCP)
	sess.Source = &source
	sess.Sniff = true

	if err := s.dispatch.Dispatch(ctx, conn, sess); err != nil {
		logging.Debug("socks5 dispatch error for %s: %v", target, err)
	}
}

// socks5Handshake performs the no-auth greeting and reads a CONNECT
// request, replying with success (the real bound address is irrelevant to
// a SOCKS5 client once the tunnel is relaying bytes, so this always
// reports 0.0.0.0:0 as the bound address rather than a real bind).
func socks5Handshake(conn net.Conn) (address.Address, error) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return address.Address{}, fmt.Errorf("greeting header: %w", err)
	}
	if header[0] != socks5Version {
		return address.Address{}, fmt.Errorf("unsupported socks version %d", header[0])
	}
	methods := make([]byte, header[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return address.Address{}, fmt.Errorf("greeting methods: %w", err)
	}
	if _, err := conn.Write([]byte{socks5Version, 0x00}); err != nil {
		return address.Address{}, fmt.Errorf("greeting reply: %w", err)
	}

	reqHeader := make([]byte, 4)
	if _, err := io.ReadFull(conn, reqHeader); err != nil {
		return address.Address{}, fmt.Errorf("request header: %w", err)
	}
	if reqHeader[0] != socks5Version {
		return address.Address{}, fmt.Errorf("unsupported socks version %d", reqHeader[0])
	}
	if reqHeader[1] != socks5CmdConnect && reqHeader[1] != socks5CmdUDP {
		writeSocks5Reply(conn, socks5ReplyFail)
		return address.Address{}, fmt.Errorf("unsupported command %d", reqHeader[1])
	}

	target, err := readSocks5Addr(conn, reqHeader[3])
	if err != nil {
		writeSocks5Reply(conn, socks5ReplyFail)
		return address.Address{}, err
	}

	writeSocks5Reply(conn, socks5ReplyOK)
	return target, nil
}

func readSocks5Addr(conn net.Conn, atyp byte) (address.Address, error) {
	switch atyp {
	case socks5AtypIPv4:
		buf := make([]byte, net.IPv4len+2)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return address.Address{}, err
		}
		ip, _ := netip.AddrFromSlice(buf[:net.IPv4len])
		return address.FromIP(ip, readPort(buf[net.IPv4len:])), nil
	case socks5AtypIPv6:
		buf := make([]byte, net.IPv6len+2)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return address.Address{}, err
		}
		ip, _ := netip.AddrFromSlice(buf[:net.IPv6len])
		return address.FromIP(ip, readPort(buf[net.IPv6len:])), nil
	case socks5AtypDomain:
		lb := make([]byte, 1)
		if _, err := io.ReadFull(conn, lb); err != nil {
			return address.Address{}, err
		}
		buf := make([]byte, int(lb[0])+2)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return address.Address{}, err
		}
		domain := string(buf[:lb[0]])
		return address.FromDomain(domain, readPort(buf[lb[0]:]))
	default:
		return address.Address{}, fmt.Errorf("unknown address type %d", atyp)
	}
}

func readPort(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func writeSocks5Reply(conn net.Conn, code byte) {
	conn.Write([]byte{socks5Version, code, 0x00, socks5AtypIPv4, 0, 0, 0, 0, 0, 0})
}
