// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package outbound

import (
	"context"
	"io"
	"net/netip"
	"testing"

	"nyx.sh/core/internal/address"
)

type fakeHandler struct {
	tag string
}

func (f *fakeHandler) Tag() string { return f.tag }
func (f *fakeHandler) Connect(ctx context.Context, sess address.Session) (io.ReadWriteCloser, error) {
	return nil, nil
}
func (f *fakeHandler) ConnectUDP(ctx context.Context, sess address.Session) (UDPTransport, error) {
	return nil, nil
}

func sessionFor(host string, port uint16) address.Session {
	addr := address.FromIP(netip.MustParseAddr(host), port)
	return address.NewSession(addr, "socks-in", address.TCP)
}

func TestRegistryBuildGroupsOrderIndependent(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeHandler{tag: "p1"})
	reg.Register(&fakeHandler{tag: "p2"})

	err := reg.BuildGroups([]GroupConfig{
		{Tag: "outer", Policy: "selector", Children: []string{"inner"}},
		{Tag: "inner", Policy: "selector", Children: []string{"p1", "p2"}},
	})
	if err != nil {
		t.Fatalf("BuildGroups: %v", err)
	}
	if !reg.IsGroup("outer") || !reg.IsGroup("inner") {
		t.Fatal("expected both groups registered")
	}
}

func TestRegistryBuildGroupsDetectsCycle(t *testing.T) {
	reg := NewRegistry()
	err := reg.BuildGroups([]GroupConfig{
		{Tag: "a", Policy: "selector", Children: []string{"b"}},
		{Tag: "b", Policy: "selector", Children: []string{"a"}},
	})
	if err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestRegistryBuildGroupsUnresolvedChild(t *testing.T) {
	reg := NewRegistry()
	err := reg.BuildGroups([]GroupConfig{
		{Tag: "g", Policy: "selector", Children: []string{"missing"}},
	})
	if err == nil {
		t.Fatal("expected unresolved dependency error")
	}
}

func TestSelectorPolicy(t *testing.T) {
	p1 := &fakeHandler{tag: "p1"}
	p2 := &fakeHandler{tag: "p2"}
	g, err := newGroup(GroupConfig{Tag: "g", Policy: "selector", Children: []string{"p1", "p2"}, Selected: "p1"}, []Handler{p1, p2})
	if err != nil {
		t.Fatal(err)
	}
	if g.Selected() != "p1" {
		t.Fatalf("got %s", g.Selected())
	}
	if err := g.Select("p2"); err != nil {
		t.Fatal(err)
	}
	if g.Selected() != "p2" {
		t.Fatalf("expected p2 after select, got %s", g.Selected())
	}
	if err := g.Select("nope"); err == nil {
		t.Fatal("expected error selecting unknown child")
	}
}

func TestStickyPolicyPinsTarget(t *testing.T) {
	p1 := &fakeHandler{tag: "p1"}
	p2 := &fakeHandler{tag: "p2"}
	g, err := newGroup(GroupConfig{Tag: "g", Policy: "sticky", Children: []string{"p1", "p2"}}, []Handler{p1, p2})
	if err != nil {
		t.Fatal(err)
	}
	sess := sessionFor("93.184.216.34", 443)
	first := g.pick(sess).handler.Tag()
	for i := 0; i < 10; i++ {
		if g.pick(sess).handler.Tag() != first {
			t.Fatal("sticky pick should pin to the same child")
		}
	}
}

func TestFallbackPicksHealthyFirst(t *testing.T) {
	p1 := &fakeHandler{tag: "p1"}
	p2 := &fakeHandler{tag: "p2"}
	g, err := newGroup(GroupConfig{Tag: "g", Policy: "fallback", Children: []string{"p1", "p2"}}, []Handler{p1, p2})
	if err != nil {
		t.Fatal(err)
	}
	g.byTag["p1"].latency.Store(-1)
	if g.pick(address.Session{}).handler.Tag() != "p2" {
		t.Fatal("expected fallback to skip unhealthy p1")
	}
	g.byTag["p2"].latency.Store(-1)
	if g.pick(address.Session{}).handler.Tag() != "p1" {
		t.Fatal("expected fallback to first child when all unhealthy")
	}
}

func TestURLTestPicksLowestLatency(t *testing.T) {
	p1 := &fakeHandler{tag: "p1"}
	p2 := &fakeHandler{tag: "p2"}
	g, err := newGroup(GroupConfig{Tag: "g", Policy: "url-test", Children: []string{"p1", "p2"}, Tolerance: 20}, []Handler{p1, p2})
	if err != nil {
		t.Fatal(err)
	}
	g.byTag["p1"].latency.Store(100)
	g.byTag["p2"].latency.Store(50)
	if g.pick(address.Session{}).handler.Tag() != "p2" {
		t.Fatal("expected p2, the lower-latency child, to be picked first")
	}
}

func TestURLTestHysteresisHoldsPreviousPick(t *testing.T) {
	p1 := &fakeHandler{tag: "p1"}
	p2 := &fakeHandler{tag: "p2"}
	g, err := newGroup(GroupConfig{Tag: "g", Policy: "url-test", Children: []string{"p1", "p2"}, Tolerance: 20}, []Handler{p1, p2})
	if err != nil {
		t.Fatal(err)
	}
	g.byTag["p1"].latency.Store(100)
	g.byTag["p2"].latency.Store(50)
	if got := g.pick(address.Session{}).handler.Tag(); got != "p2" {
		t.Fatalf("expected initial pick p2, got %s", got)
	}

	// p1 improves but not enough to clear the tolerance margin over p2;
	// the group should keep routing to the previously-selected child.
	g.byTag["p1"].latency.Store(45)
	if got := g.pick(address.Session{}).handler.Tag(); got != "p2" {
		t.Fatalf("expected hysteresis to hold p2, got %s", got)
	}

	// p1 now clears the tolerance margin and should take over.
	g.byTag["p1"].latency.Store(10)
	if got := g.pick(address.Session{}).handler.Tag(); got != "p1" {
		t.Fatalf("expected switch to p1 once it beats the tolerance margin, got %s", got)
	}
}

func TestLoadBalanceFlowHashDeterministic(t *testing.T) {
	p1 := &fakeHandler{tag: "p1"}
	p2 := &fakeHandler{tag: "p2"}
	g, err := newGroup(GroupConfig{Tag: "g", Policy: "load-balance", Children: []string{"p1", "p2"}}, []Handler{p1, p2})
	if err != nil {
		t.Fatal(err)
	}
	sess := sessionFor("1.1.1.1", 80)
	first := g.pick(sess).handler.Tag()
	second := g.pick(sess).handler.Tag()
	if first != second {
		t.Fatal("flow hash pick must be deterministic for the same target")
	}
}
