// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package address implements the Address/Session value types the whole
// data plane passes around: an inbound produces a Session, the dispatcher
// reads and once-rewrites its target, and every outbound/router/tracker
// operation downstream takes an immutable Address.
package address

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// Network distinguishes TCP from UDP sessions.
type Network string

const (
	TCP Network = "tcp"
	UDP Network = "udp"
)

// Address is a tagged union of an IP+port or a domain+port. Addresses are
// values: nothing downstream ever mutates one in place, it only produces
// new ones (e.g. sniff rewriting a target, FakeIP reverse lookup).
type Address struct {
	ip     netip.Addr
	domain string
	port   uint16
	isIP   bool
}

// FromIP builds an IP-tagged Address. Panics if ip is invalid, mirroring
// the construction-time invariant checks the teacher applies to value types.
func FromIP(ip netip.Addr, port uint16) Address {
	if !ip.IsValid() {
		panic("address: invalid IP")
	}
	return Address{ip: ip, port: port, isIP: true}
}

// FromDomain builds a domain-tagged Address. host must be non-empty and
// free of NUL bytes, per the data-model invariant.
func FromDomain(host string, port uint16) (Address, error) {
	if host == "" {
		return Address{}, fmt.Errorf("address: empty domain")
	}
	if strings.IndexByte(host, 0) >= 0 {
		return Address{}, fmt.Errorf("address: domain contains NUL byte")
	}
	return Address{domain: host, port: port, isIP: false}, nil
}

// FromTCPAddr builds an IP Address from a *net.TCPAddr.
func FromTCPAddr(a *net.TCPAddr) (Address, error) {
	ip, ok := netip.AddrFromSlice(a.IP)
	if !ok {
		return Address{}, fmt.Errorf("address: invalid TCP addr %v", a)
	}
	return FromIP(ip.Unmap(), uint16(a.Port)), nil
}

// ParseAddress parses "host:port", producing an IP Address if host parses
// as an IP literal and a Domain Address otherwise.
func ParseAddress(hostport string) (Address, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Address{}, fmt.Errorf("address: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("address: invalid port %q", portStr)
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return FromIP(ip, uint16(port)), nil
	}
	return FromDomain(host, uint16(port))
}

// IsIP reports whether the address is the IP variant.
func (a Address) IsIP() bool { return a.isIP }

// IsDomain reports whether the address is the Domain variant.
func (a Address) IsDomain() bool { return !a.isIP }

// IP returns the IP, valid only when IsIP() is true.
func (a Address) IP() netip.Addr { return a.ip }

// Domain returns the domain host, valid only when IsDomain() is true.
func (a Address) Domain() string { return a.domain }

// Port returns the port in host order.
func (a Address) Port() uint16 { return a.port }

// WithDomain returns a copy of a retargeted at the given domain, keeping
// the port. Used by the sniffer to rewrite an IP target to a domain.
func (a Address) WithDomain(domain string) Address {
	return Address{domain: domain, port: a.port, isIP: false}
}

// WithIP returns a copy of a retargeted at the given IP, keeping the port.
// Used by FakeIP substitution and DNS resolution.
func (a Address) WithIP(ip netip.Addr) Address {
	return Address{ip: ip, port: a.port, isIP: true}
}

// WithPort returns a copy of a with a different port.
func (a Address) WithPort(port uint16) Address {
	a.port = port
	return a
}

// Host returns the textual host part (dotted IP or domain) without port.
func (a Address) Host() string {
	if a.isIP {
		return a.ip.String()
	}
	return a.domain
}

// String renders "host:port".
func (a Address) String() string {
	return net.JoinHostPort(a.Host(), strconv.Itoa(int(a.port)))
}
