// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dispatcher

import (
	"context"
	"io"
	"net"
	"net/netip"
	"testing"

	"nyx.sh/core/internal/address"
	"nyx.sh/core/internal/dns"
	"nyx.sh/core/internal/outbound"
	"nyx.sh/core/internal/router"
	"nyx.sh/core/internal/tracker"
)

type echoHandler struct {
	tag  string
	conn net.Conn
}

func (e *echoHandler) Tag() string { return e.tag }
func (e *echoHandler) Connect(ctx context.Context, sess address.Session) (io.ReadWriteCloser, error) {
	return e.conn, nil
}
func (e *echoHandler) ConnectUDP(ctx context.Context, sess address.Session) (outbound.UDPTransport, error) {
	return e.conn, nil
}

func newDispatcherFixture(t *testing.T, target net.Conn) *Dispatcher {
	t.Helper()
	reg := outbound.NewRegistry()
	reg.Register(&echoHandler{tag: "direct", conn: target})

	rt := router.New("direct")
	rt.Build([]*router.Rule{
		{Kind: router.KindDomainSuffix, Values: []string{"example.com"}, Outbound: "direct"},
	}, nil, nil, nil)

	resolver := dns.ResolverFunc(func(ctx context.Context, host, network string) ([]netip.Addr, error) {
		return []netip.Addr{netip.MustParseAddr("93.184.216.34")}, nil
	})

	return New(resolver, rt, reg, tracker.New(), nil)
}

func TestDispatchConnectsResolvesRoutesAndRelays(t *testing.T) {
	clientSide, clientRemote := net.Pipe()
	upstreamLocal, upstreamRemote := net.Pipe()

	d := newDispatcherFixture(t, upstreamRemote)

	target, err := address.FromDomain("example.com", 443)
	if err != nil {
		t.Fatal(err)
	}
	sess := address.NewSession(target, "test-in", address.TCP)

	done := make(chan error, 1)
	go func() {
		done <- d.Dispatch(context.Background(), clientRemote, sess)
	}()

	go func() {
		clientSide.Write([]byte("hello"))
		clientSide.Close()
	}()

	buf := make([]byte, 16)
	n, err := upstreamLocal.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q", buf[:n])
	}
	upstreamLocal.Close()

	if err := <-done; err != nil {
		t.Fatalf("dispatch returned error: %v", err)
	}
}

func TestDispatchReversesFakeIPBeforeRouting(t *testing.T) {
	clientSide, clientRemote := net.Pipe()
	upstreamLocal, upstreamRemote := net.Pipe()

	reg := outbound.NewRegistry()
	reg.Register(&echoHandler{tag: "direct", conn: upstreamRemote})

	rt := router.New("reject")
	rt.Build([]*router.Rule{
		{Kind: router.KindDomainSuffix, Values: []string{"example.com"}, Outbound: "direct"},
	}, nil, nil, nil)

	pool, err := dns.NewFakeIpPool(netip.MustParsePrefix("198.18.0.0/24"))
	if err != nil {
		t.Fatal(err)
	}
	fakeIP := pool.Allocate("example.com")

	d := New(nil, rt, reg, tracker.New(), pool)

	target := address.FromIP(fakeIP, 443)
	sess := address.NewSession(target, "tun-in", address.TCP)

	done := make(chan error, 1)
	go func() {
		done <- d.Dispatch(context.Background(), clientRemote, sess)
	}()

	go func() {
		clientSide.Write([]byte("hello"))
		clientSide.Close()
	}()

	buf := make([]byte, 16)
	n, err := upstreamLocal.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q", buf[:n])
	}
	upstreamLocal.Close()

	// With the router's fallback set to "reject", the only way this dispatch
	// succeeds is if the FakeIP target got reversed to "example.com" and
	// matched the domain-suffix rule rather than falling through to reject.
	if err := <-done; err != nil {
		t.Fatalf("dispatch returned error: %v", err)
	}
}

func TestDispatchRejectsOnRejectRule(t *testing.T) {
	reg := outbound.NewRegistry()
	rt := router.New("direct")
	rt.Build([]*router.Rule{
		{Kind: router.KindDomainSuffix, Values: []string{"blocked.example"}, Action: "reject"},
	}, nil, nil, nil)
	resolver := dns.ResolverFunc(func(ctx context.Context, host, network string) ([]netip.Addr, error) {
		return []netip.Addr{netip.MustParseAddr("1.2.3.4")}, nil
	})
	d := New(resolver, rt, reg, tracker.New(), nil)

	target, err := address.FromDomain("blocked.example", 443)
	if err != nil {
		t.Fatal(err)
	}
	sess := address.NewSession(target, "test-in", address.TCP)

	clientLocal, clientRemote := net.Pipe()
	clientLocal.Close()
	if err := d.Dispatch(context.Background(), clientRemote, sess); err == nil {
		t.Fatal("expected reject error")
	}
}
