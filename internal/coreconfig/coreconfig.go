// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package coreconfig defines the narrow configuration surface the core
// itself consumes: router rules, outbound/proxy-group definitions, DNS
// settings, and TUN device settings. It intentionally does not implement
// a general-purpose schema, diffing, or file-watching layer the way the
// teacher's own config package does for its much larger surface — the
// core only needs to decode these sections and hand typed structs to
// router.Build / outbound.Registry.BuildGroups / the dns tower
// constructors.
package coreconfig

import (
	"encoding/json"
	"fmt"
	"net/netip"
)

// RuleConfig is one router rule in its flat wire form, matching
// router.ParseRule's "type:value,value:outbound" grammar.
type RuleConfig struct {
	Type     string   `json:"type"`
	Values   []string `json:"values"`
	Outbound string   `json:"outbound"`
	Action   string   `json:"action,omitempty"`
}

// RouterConfig is the router section of the configuration surface.
type RouterConfig struct {
	Default        string            `json:"default"`
	Rules          []RuleConfig      `json:"rules"`
	GeoIPPath      string            `json:"geoip_path,omitempty"`
	GeoSitePath    string            `json:"geosite_path,omitempty"`
	RuleProviders  map[string]string `json:"rule_providers,omitempty"`
}

// OutboundConfig describes one leaf outbound handler.
type OutboundConfig struct {
	Tag      string            `json:"tag"`
	Protocol string            `json:"protocol"` // direct | shadowsocks | trojan | wireguard; chain outbounds are not built from this struct
	Settings map[string]string `json:"settings"`
}

// ProxyGroupConfig describes one outbound group.
type ProxyGroupConfig struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"` // selector | url-test | fallback | load-balance | sticky | latency-weighted
	Proxies   []string `json:"proxies"`
	URL       string   `json:"url,omitempty"`
	Interval  int      `json:"interval,omitempty"`
	Tolerance float64  `json:"tolerance,omitempty"`
	Selected  string   `json:"selected,omitempty"`
}

// DNSServerConfig is one upstream server entry, optionally scoped to a set
// of domains (used by split-horizon routing).
type DNSServerConfig struct {
	Address string   `json:"address"`
	Domains []string `json:"domains,omitempty"`
}

// FakeIPConfig configures the synthesized-address resolver.
type FakeIPConfig struct {
	IPv4Range string   `json:"ipv4_range"`
	IPv6Range string   `json:"ipv6_range,omitempty"`
	Exclude   []string `json:"exclude,omitempty"`
}

// FallbackFilterConfig decides when FallbackResolver distrusts the
// primary answer.
type FallbackFilterConfig struct {
	IPCidr []string `json:"ip_cidr,omitempty"`
	Domain []string `json:"domain,omitempty"`
}

// DNSConfig is the DNS section of the configuration surface.
type DNSConfig struct {
	Servers           []DNSServerConfig    `json:"servers"`
	Mode              string               `json:"mode"` // split | race | fallback
	CacheTTL          int                  `json:"cache_ttl,omitempty"`
	NegativeCacheTTL  int                  `json:"negative_cache_ttl,omitempty"`
	CacheSize         int                  `json:"cache_size,omitempty"`
	Hosts             map[string][]string  `json:"hosts,omitempty"`
	FakeIP            *FakeIPConfig        `json:"fake_ip,omitempty"`
	Fallback          []string             `json:"fallback,omitempty"`
	FallbackFilter    FallbackFilterConfig `json:"fallback_filter,omitempty"`
	EDNSClientSubnet  string               `json:"edns_client_subnet,omitempty"`
}

// TUNConfig is the TUN device section of the configuration surface.
type TUNConfig struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	Netmask    string `json:"netmask"`
	MTU        int    `json:"mtu"`
	DNSHijack  bool   `json:"dns_hijack"`
	AutoRoute  bool   `json:"auto_route"`
	Stack      string `json:"stack"` // gvisor | system
	ICMPPolicy string `json:"icmp_policy"`
}

// Config is the full configuration surface the core consumes; everything
// else (CLI flags, credentials, supervisory config) is the caller's
// concern.
type Config struct {
	Router    RouterConfig       `json:"router"`
	Outbounds []OutboundConfig   `json:"outbounds"`
	Groups    []ProxyGroupConfig `json:"groups,omitempty"`
	DNS       DNSConfig          `json:"dns"`
	TUN       *TUNConfig         `json:"tun,omitempty"`
}

// Decode parses raw JSON bytes into a Config.
func Decode(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("coreconfig: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the structural invariants the core relies on before
// attempting to build a Router/Registry/resolver tower from this config.
func (c *Config) Validate() error {
	if c.Router.Default == "" {
		return fmt.Errorf("coreconfig: router.default is required")
	}
	seen := make(map[string]bool, len(c.Outbounds))
	for _, ob := range c.Outbounds {
		if ob.Tag == "" {
			return fmt.Errorf("coreconfig: outbound with empty tag")
		}
		if seen[ob.Tag] {
			return fmt.Errorf("coreconfig: duplicate outbound tag %q", ob.Tag)
		}
		seen[ob.Tag] = true
	}
	for _, g := range c.Groups {
		if g.Name == "" {
			return fmt.Errorf("coreconfig: proxy group with empty name")
		}
		if seen[g.Name] {
			return fmt.Errorf("coreconfig: group tag %q collides with an outbound tag", g.Name)
		}
		seen[g.Name] = true
	}
	if c.DNS.FakeIP != nil {
		if _, err := netip.ParsePrefix(c.DNS.FakeIP.IPv4Range); err != nil {
			return fmt.Errorf("coreconfig: dns.fake_ip.ipv4_range: %w", err)
		}
	}
	return nil
}
