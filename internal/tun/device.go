// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package tun implements the userspace network stack that sits behind a
// virtual TUN interface: it reads raw IP packets, feeds them into a gVisor
// netstack, and hands the reassembled TCP streams and UDP datagrams to a
// dispatcher the same way the SOCKS5 and HTTP listeners do. The platform
// TUN device itself (opening /dev/net/tun, wintun, utun, ...) is someone
// else's concern; this package only needs the narrow read/write contract
// below, grounded on the teacher's own pattern of depending on device
// interfaces it never opens itself (see internal/services/dhcp's use of a
// caller-supplied packet socket).
package tun

import "context"

// Device is the raw packet source/sink a platform-specific opener hands to
// a Stack. Reads and writes are always complete IP packets, never partial.
type Device interface {
	// ReadPacket blocks until a packet is available or ctx is canceled,
	// filling buf and returning the number of bytes read.
	ReadPacket(ctx context.Context, buf []byte) (int, error)
	// WritePacket writes one complete IP packet to the device.
	WritePacket(buf []byte) error
	// MTU returns the device's current MTU.
	MTU() int
	Close() error
}

// Config is the runtime configuration of one Stack instance, the in-process
// counterpart of coreconfig.TUNConfig plus the operational knobs §4.4 names.
type Config struct {
	MaxTCPConnections int
	MaxUDPSessions    int
	ICMPPolicy        string // "drop" | "passthrough"
	DNSHijackEnabled  bool
	AllowLoopback     bool
	Sniff             bool
	UDPIdleTimeout    int // seconds, 0 uses the package default
}

func (c Config) maxTCP() int {
	if c.MaxTCPConnections > 0 {
		return c.MaxTCPConnections
	}
	return 4096
}

func (c Config) maxUDP() int {
	if c.MaxUDPSessions > 0 {
		return c.MaxUDPSessions
	}
	return 2048
}
