// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package outbound

import (
	"fmt"
	"net"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// WireGuardPeerConfig is the subset of a peer definition this outbound
// pushes to an already-present kernel or wireguard-go interface via
// wgctrl; key generation and full Noise-protocol handshake are the
// interface's job, not this outbound's (see DESIGN.md for the scoping
// rationale).
type WireGuardPeerConfig struct {
	Interface        string
	PublicKey        string
	PresharedKey     string
	Endpoint         string
	AllowedIPs       []string
	PersistentKeepal int // seconds, 0 = disabled
}

// WireGuard is an outbound that dials through an existing WireGuard
// network interface (configured at build time via wgctrl), the same
// bind-device dial approach Direct uses for non-default routing tables.
type WireGuard struct {
	*Direct
	iface string
}

// NewWireGuard configures cfg.Interface's peer list via wgctrl (adding the
// peer if absent) and returns an outbound that dials bound to that
// interface.
func NewWireGuard(tag string, cfg WireGuardPeerConfig) (*WireGuard, error) {
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("outbound: open wgctrl client: %w", err)
	}
	defer client.Close()

	pub, err := wgtypes.ParseKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("outbound: parse peer public key: %w", err)
	}

	peerCfg := wgtypes.PeerConfig{
		PublicKey: pub,
	}
	if cfg.PresharedKey != "" {
		psk, err := wgtypes.ParseKey(cfg.PresharedKey)
		if err != nil {
			return nil, fmt.Errorf("outbound: parse preshared key: %w", err)
		}
		peerCfg.PresharedKey = &psk
	}
	if cfg.Endpoint != "" {
		endpoint, err := net.ResolveUDPAddr("udp", cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("outbound: resolve endpoint %q: %w", cfg.Endpoint, err)
		}
		peerCfg.Endpoint = endpoint
	}
	for _, cidr := range cfg.AllowedIPs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("outbound: parse allowed-ip %q: %w", cidr, err)
		}
		peerCfg.AllowedIPs = append(peerCfg.AllowedIPs, *ipNet)
	}
	if cfg.PersistentKeepal > 0 {
		d := time.Duration(cfg.PersistentKeepal) * time.Second
		peerCfg.PersistentKeepaliveInterval = &d
	}
	peerCfg.ReplaceAllowedIPs = true

	if err := client.ConfigureDevice(cfg.Interface, wgtypes.Config{
		Peers: []wgtypes.PeerConfig{peerCfg},
	}); err != nil {
		return nil, fmt.Errorf("outbound: configure wireguard device %q: %w", cfg.Interface, err)
	}

	direct, err := NewDirect(tag, cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("outbound: bind to wireguard interface %q: %w", cfg.Interface, err)
	}
	return &WireGuard{Direct: direct, iface: cfg.Interface}, nil
}
