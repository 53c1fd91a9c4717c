// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command nyx is the daemon entrypoint: it loads a configuration document,
// wires the router, outbound registry, DNS resolver tower, connection
// tracker, metrics collector, and every inbound listener, then runs until
// an OS signal requests a graceful shutdown. Grounded on the teacher's own
// cmd/flywall-sim/main.go: a flag.FlagSet for the config path, an explicit
// wiring function separate from main, and fatal logging on startup failure
// rather than a cobra/viper command tree.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"nyx.sh/core/internal/api"
	"nyx.sh/core/internal/coreconfig"
	"nyx.sh/core/internal/dispatcher"
	"nyx.sh/core/internal/dns"
	"nyx.sh/core/internal/inbound"
	"nyx.sh/core/internal/logging"
	"nyx.sh/core/internal/metrics"
	"nyx.sh/core/internal/outbound"
	"nyx.sh/core/internal/router"
	"nyx.sh/core/internal/shutdown"
	"nyx.sh/core/internal/tracker"
)

func main() {
	configPath := flag.String("config", "", "path to the JSON configuration document")
	socksAddr := flag.String("socks", "127.0.0.1:1080", "SOCKS5 inbound listen address")
	httpAddr := flag.String("http", "127.0.0.1:1081", "HTTP inbound listen address")
	apiAddr := flag.String("api", "127.0.0.1:9090", "management API listen address")
	logLevel := flag.String("log-level", "info", "debug | info | warn | error")
	flag.Parse()

	logging.SetLevel(logging.ParseLevel(*logLevel))

	if *configPath == "" {
		logging.Error("nyx: -config is required")
		os.Exit(1)
	}
	data, err := os.ReadFile(*configPath)
	if err != nil {
		logging.Error("nyx: read config: %v", err)
		os.Exit(1)
	}
	cfg, err := coreconfig.Decode(data)
	if err != nil {
		logging.Error("nyx: decode config: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := newNode(cfg, *socksAddr, *httpAddr, *apiAddr)
	if err != nil {
		logging.Error("nyx: wiring failed: %v", err)
		os.Exit(1)
	}

	if err := n.run(ctx); err != nil {
		logging.Error("nyx: %v", err)
		os.Exit(1)
	}
}

// node owns every long-lived component built from one Config.
type node struct {
	controller *shutdown.Controller
	router     *router.Router
	registry   *outbound.Registry
	resolver   dns.Resolver
	tracker    *tracker.Tracker
	metricsReg *metrics.Registry
	collector  *metrics.Collector
	dispatch   *dispatcher.Dispatcher
	listeners  []inbound.Listener
	apiServer  *api.Server
}

func newNode(cfg *coreconfig.Config, socksAddr, httpAddr, apiAddr string) (*node, error) {
	n := &node{
		controller: shutdown.New(context.Background()),
		tracker:    tracker.New(),
		metricsReg: metrics.NewRegistry(),
		registry:   outbound.NewRegistry(),
	}

	if err := n.buildOutbounds(cfg); err != nil {
		return nil, err
	}
	if err := n.registry.BuildGroups(toGroupConfigs(cfg.Groups)); err != nil {
		return nil, fmt.Errorf("build proxy groups: %w", err)
	}

	resolver, fakeIPPool, err := buildResolverTower(cfg.DNS)
	if err != nil {
		return nil, fmt.Errorf("build resolver tower: %w", err)
	}
	n.resolver = resolver

	n.router = router.New(cfg.Router.Default)
	rules, err := parseRules(cfg.Router.Rules)
	if err != nil {
		return nil, fmt.Errorf("parse router rules: %w", err)
	}
	n.router.Build(rules, nil, nil, nil)

	n.dispatch = dispatcher.New(n.resolver, n.router, n.registry, n.tracker, fakeIPPool)
	n.collector = metrics.NewCollector(n.metricsReg, n.tracker, 5*time.Second)

	socksListener, err := inbound.NewSOCKS5Listener("socks", socksAddr, n.dispatch)
	if err != nil {
		return nil, fmt.Errorf("socks5 listener: %w", err)
	}
	httpListener, err := inbound.NewHTTPListener("http", httpAddr, n.dispatch)
	if err != nil {
		return nil, fmt.Errorf("http listener: %w", err)
	}
	n.listeners = []inbound.Listener{socksListener, httpListener}

	n.apiServer = api.New(api.Options{
		Addr:     apiAddr,
		Router:   n.router,
		Registry: n.registry,
		Tracker:  n.tracker,
		Metrics:  n.metricsReg,
		Reloader: n,
	})

	return n, nil
}

// Reload implements api.Reloader: it rebuilds the router's rule set and
// the outbound registry's groups from a new config in place, without
// restarting the inbound listeners. Outbound handler identities (and
// hence in-flight connections through them) are left untouched; only
// leaf-outbound settings that changed require a process restart in this
// wiring, consistent with the handler registry being built once at
// startup rather than hot-swapped per field.
func (n *node) Reload(ctx context.Context, cfg *coreconfig.Config) error {
	rules, err := parseRules(cfg.Router.Rules)
	if err != nil {
		return fmt.Errorf("reload: parse rules: %w", err)
	}
	n.router.Build(rules, nil, nil, nil)
	if err := n.registry.BuildGroups(toGroupConfigs(cfg.Groups)); err != nil {
		return fmt.Errorf("reload: rebuild groups: %w", err)
	}
	logging.Info("nyx: config reloaded, %d rules, %d groups", len(rules), len(cfg.Groups))
	return nil
}

func (n *node) run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		n.controller.Trigger()
	}()
	ctx = n.controller.Context()
	group, gctx := errgroup.WithContext(ctx)

	for _, l := range n.listeners {
		l := l
		release := n.controller.Track()
		group.Go(func() error {
			defer release()
			if err := l.Serve(gctx); err != nil {
				logging.Error("nyx: inbound %s stopped: %v", l.Tag(), err)
				return err
			}
			return nil
		})
	}

	group.Go(func() error {
		n.collector.Run(gctx)
		return nil
	})
	group.Go(func() error {
		return n.apiServer.Run(gctx)
	})

	<-ctx.Done()
	logging.Info("nyx: shutdown requested, draining connections")
	if !n.controller.Drain(15 * time.Second) {
		logging.Warn("nyx: drain timed out, forcing close of %d connections", n.tracker.CloseAll())
	}
	for _, l := range n.listeners {
		l.Close()
	}

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (n *node) buildOutbounds(cfg *coreconfig.Config) error {
	for _, ob := range cfg.Outbounds {
		handler, err := buildOutbound(ob)
		if err != nil {
			return fmt.Errorf("outbound %q: %w", ob.Tag, err)
		}
		n.registry.Register(handler)
	}
	return nil
}

func buildOutbound(ob coreconfig.OutboundConfig) (outbound.Handler, error) {
	switch ob.Protocol {
	case "", "direct":
		return outbound.NewDirect(ob.Tag, ob.Settings["bind_device"])
	case "shadowsocks":
		return outbound.NewShadowsocks(ob.Tag, ob.Settings["server"], ob.Settings["password"]), nil
	case "trojan":
		insecure := ob.Settings["insecure"] == "true"
		return outbound.NewTrojan(ob.Tag, ob.Settings["server"], ob.Settings["password"], ob.Settings["sni"], insecure), nil
	case "wireguard":
		return outbound.NewWireGuard(ob.Tag, outbound.WireGuardPeerConfig{
			Interface:  ob.Settings["interface"],
			PublicKey:  ob.Settings["public_key"],
			Endpoint:   ob.Settings["endpoint"],
			AllowedIPs: []string{ob.Settings["allowed_ips"]},
		})
	default:
		return nil, fmt.Errorf("unsupported protocol %q", ob.Protocol)
	}
}

func toGroupConfigs(groups []coreconfig.ProxyGroupConfig) []outbound.GroupConfig {
	out := make([]outbound.GroupConfig, len(groups))
	for i, g := range groups {
		out[i] = outbound.GroupConfig{
			Tag:       g.Name,
			Policy:    g.Type,
			Children:  g.Proxies,
			Selected:  g.Selected,
			ProbeURL:  g.URL,
			Interval:  g.Interval,
			Tolerance: g.Tolerance,
		}
	}
	return out
}

func parseRules(rules []coreconfig.RuleConfig) ([]*router.Rule, error) {
	out := make([]*router.Rule, 0, len(rules))
	for _, rc := range rules {
		line := rc.Type + ":" + joinValues(rc.Values) + ":" + rc.Outbound
		rule, err := router.ParseRule(line)
		if err != nil {
			return nil, err
		}
		rule.Action = rc.Action
		out = append(out, rule)
	}
	return out, nil
}

func joinValues(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}

// buildResolverTower composes the DNS resolver chain outer-to-inner per
// §4.5: CachedResolver -> FakeIpResolver (optional) -> HostsResolver ->
// the configured mode resolver -> per-server UDP leaves. It also returns
// the FakeIpPool backing the FakeIpResolver, if one was built, so the
// dispatcher can reverse-lookup a FakeIP target before routing.
func buildResolverTower(cfg coreconfig.DNSConfig) (dns.Resolver, *dns.FakeIpPool, error) {
	if len(cfg.Servers) == 0 {
		return dns.NewSystemResolver(), nil, nil
	}

	leaves := make([]dns.Resolver, 0, len(cfg.Servers))
	for _, srv := range cfg.Servers {
		leaves = append(leaves, dns.NewUDPLeaf(srv.Address))
	}

	var inner dns.Resolver
	switch cfg.Mode {
	case "fallback":
		if len(leaves) < 2 {
			inner = leaves[0]
			break
		}
		filterCIDRs := make([]netip.Prefix, 0, len(cfg.FallbackFilter.IPCidr))
		for _, c := range cfg.FallbackFilter.IPCidr {
			if p, err := netip.ParsePrefix(c); err == nil {
				filterCIDRs = append(filterCIDRs, p)
			}
		}
		inner = dns.NewFallbackResolver(leaves[0], leaves[1], dns.FallbackConfig{
			SuspectPrefixes: filterCIDRs,
			FallbackDomains: cfg.FallbackFilter.Domain,
		})
	case "split":
		def := leaves[0]
		defSet := false
		var routes []dns.SplitRoute
		for i, srv := range cfg.Servers {
			if len(srv.Domains) > 0 {
				routes = append(routes, dns.SplitRoute{Suffixes: srv.Domains, Resolver: leaves[i]})
			} else if !defSet {
				def, defSet = leaves[i], true
			}
		}
		inner = dns.NewSplitResolver(def, routes...)
	default:
		inner = dns.NewRaceResolver(leaves...)
	}

	if len(cfg.Hosts) > 0 {
		hosts := make(map[string][]netip.Addr, len(cfg.Hosts))
		for host, ips := range cfg.Hosts {
			parsed := make([]netip.Addr, 0, len(ips))
			for _, ip := range ips {
				if a, err := netip.ParseAddr(ip); err == nil {
					parsed = append(parsed, a)
				}
			}
			hosts[host] = parsed
		}
		inner = dns.NewHostsResolver(inner, hosts)
	}

	var fakeIPPool *dns.FakeIpPool
	if cfg.FakeIP != nil {
		prefix, err := netip.ParsePrefix(cfg.FakeIP.IPv4Range)
		if err != nil {
			return nil, nil, fmt.Errorf("fake_ip.ipv4_range: %w", err)
		}
		pool, err := dns.NewFakeIpPool(prefix)
		if err != nil {
			return nil, nil, err
		}
		fakeIPPool = pool
		inner = dns.NewFakeIpResolver(pool, inner, cfg.FakeIP.Exclude)
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = 4096
	}
	return dns.NewCachedResolver(inner, size), fakeIPPool, nil
}
