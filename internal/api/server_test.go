// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"nyx.sh/core/internal/address"
	"nyx.sh/core/internal/coreconfig"
	"nyx.sh/core/internal/metrics"
	"nyx.sh/core/internal/outbound"
	"nyx.sh/core/internal/router"
	"nyx.sh/core/internal/tracker"
)

type stubHandler struct{ tag string }

func (h stubHandler) Tag() string { return h.tag }
func (h stubHandler) Connect(ctx context.Context, sess address.Session) (io.ReadWriteCloser, error) {
	return nil, errNotNetConn
}
func (h stubHandler) ConnectUDP(ctx context.Context, sess address.Session) (outbound.UDPTransport, error) {
	return nil, errNotNetConn
}

type stubReloader struct {
	called *coreconfig.Config
	err    error
}

func (r *stubReloader) Reload(ctx context.Context, cfg *coreconfig.Config) error {
	r.called = cfg
	return r.err
}

func newFixtureServer() (*Server, *tracker.Tracker, *outbound.Registry, *stubReloader) {
	reg := outbound.NewRegistry()
	reg.Register(stubHandler{tag: "direct"})
	reg.Register(stubHandler{tag: "proxy-a"})
	_ = reg.BuildGroups([]outbound.GroupConfig{{
		Tag: "auto", Policy: "selector", Children: []string{"direct", "proxy-a"}, Selected: "direct",
	}})

	rt := router.New("direct")
	rule, _ := router.ParseRule("domain-suffix:example.com:proxy-a")
	rt.Build([]*router.Rule{rule}, nil, nil, nil)

	trk := tracker.New()
	reloader := &stubReloader{}

	s := New(Options{
		Router:   rt,
		Registry: reg,
		Tracker:  trk,
		Metrics:  metrics.NewRegistry(),
		Reloader: reloader,
	})
	return s, trk, reg, reloader
}

func TestListRulesReportsActiveRuleSet(t *testing.T) {
	s, _, _, _ := newFixtureServer()
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rules", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var rules []ruleView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	require.Len(t, rules, 1)
	require.Equal(t, "proxy-a", rules[0].Outbound)
}

func TestListProxiesIncludesGroupSelection(t *testing.T) {
	s, _, _, _ := newFixtureServer()
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxies", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var proxies []proxyView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &proxies))

	byName := make(map[string]proxyView)
	for _, p := range proxies {
		byName[p.Name] = p
	}
	require.Equal(t, "selector", byName["auto"].Type)
	require.Equal(t, "direct", byName["auto"].Now)
}

func TestSelectProxyChangesGroupSelection(t *testing.T) {
	s, _, reg, _ := newFixtureServer()
	body := `{"name": "proxy-a"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/proxies/auto", strings.NewReader(body))
	s.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	selected, ok := reg.GroupSelected("auto")
	require.True(t, ok)
	require.Equal(t, "proxy-a", selected)
}

func TestCloseConnectionByID(t *testing.T) {
	s, trk, _, _ := newFixtureServer()
	closed := false
	target, _ := address.FromDomain("example.com", 443)
	sess := address.NewSession(target, "in", address.TCP)
	guard := trk.Track(sess, "direct", "", "", func() { closed = true })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/connections/1", nil)
	s.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, closed)
	require.Equal(t, guard.ID(), uint64(1))
}

func TestPatchConfigInvokesReloader(t *testing.T) {
	s, _, _, reloader := newFixtureServer()
	body := `{"router": {"default": "direct"}, "outbounds": [{"tag": "direct", "protocol": "direct"}], "dns": {"servers": []}}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/configs", strings.NewReader(body))
	s.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, reloader.called)
	require.Equal(t, "direct", reloader.called.Router.Default)
}

func TestPatchConfigRejectsInvalidBody(t *testing.T) {
	s, _, _, reloader := newFixtureServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/configs", strings.NewReader(`{"outbounds": []}`))
	s.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Nil(t, reloader.called)
}
