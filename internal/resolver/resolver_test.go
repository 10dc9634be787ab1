package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"

	"github.com/evanofslack/cf-ddns-sync/internal/logger"
	"github.com/evanofslack/cf-ddns-sync/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer answers every request with body and status, counting hits.
type echoServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits int
}

func newEchoServer(t *testing.T, status int, body string) *echoServer {
	t.Helper()
	s := &echoServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits++
		s.mu.Unlock()
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *echoServer) Hits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits
}

func TestResolveFallsBackToNextSource(t *testing.T) {
	bad := newEchoServer(t, http.StatusOK, "not an ip")
	good := newEchoServer(t, http.StatusOK, "1.2.3.4")

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(logger.New(&logs, "info", "prod"))
	t.Cleanup(func() { slog.SetDefault(prev) })

	m := metrics.New(true)
	r, err := New([]string{bad.URL, good.URL}, http.DefaultClient, m)
	require.NoError(t, err)

	addr, err := r.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, netip.MustParseAddr("1.2.3.4"), addr)
	assert.Equal(t, 1, bad.Hits())
	assert.Equal(t, 1, good.Hits())

	expected := fmt.Sprintf(`
# HELP cf_ddns_sync_ip_lookups_total Total external IP lookups per source
# TYPE cf_ddns_sync_ip_lookups_total counter
cf_ddns_sync_ip_lookups_total{source=%q,status="failure"} 1
cf_ddns_sync_ip_lookups_total{source=%q,status="success"} 1
`, bad.URL, good.URL)
	assert.NoError(t, testutil.GatherAndCompare(m.Gatherer(), strings.NewReader(expected), "cf_ddns_sync_ip_lookups_total"))

	var failed map[string]any
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] == "IP source failed" {
			failed = entry
		}
	}
	require.NotNil(t, failed, "no failure logged for the first source")
	assert.Equal(t, "WARN", failed["level"])
	assert.Equal(t, bad.URL, failed["url"])
	assert.Contains(t, failed["error"], "not an ip")
}

func TestResolveUnreachableSource(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	down.Close()
	good := newEchoServer(t, http.StatusOK, "1.2.3.4\n")

	r, err := New([]string{down.URL, good.URL}, http.DefaultClient, metrics.New(false))
	require.NoError(t, err)

	addr, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("1.2.3.4"), addr)
}

func TestResolveStopsAtFirstSuccess(t *testing.T) {
	first := newEchoServer(t, http.StatusOK, "  10.0.0.1 \n")
	second := newEchoServer(t, http.StatusOK, "10.0.0.2")
	third := newEchoServer(t, http.StatusOK, "10.0.0.3")

	r, err := New([]string{first.URL, second.URL, third.URL}, http.DefaultClient, metrics.New(false))
	require.NoError(t, err)

	addr, err := r.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), addr)
	assert.Equal(t, 1, first.Hits())
	assert.Zero(t, second.Hits())
	assert.Zero(t, third.Hits())
}

func TestResolveRejects(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "ipv6 address", status: http.StatusOK, body: "2001:db8::1"},
		{name: "ipv4-mapped ipv6", status: http.StatusOK, body: "::ffff:1.2.3.4"},
		{name: "non-2xx with valid body", status: http.StatusServiceUnavailable, body: "1.2.3.4"},
		{name: "empty body", status: http.StatusOK, body: ""},
		{name: "html page", status: http.StatusOK, body: "<html>1.2.3.4</html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rejected := newEchoServer(t, tt.status, tt.body)
			fallback := newEchoServer(t, http.StatusOK, "5.6.7.8")

			r, err := New([]string{rejected.URL, fallback.URL}, http.DefaultClient, metrics.New(false))
			require.NoError(t, err)

			addr, err := r.Resolve(context.Background())
			require.NoError(t, err)
			assert.Equal(t, netip.MustParseAddr("5.6.7.8"), addr)
		})
	}
}

func TestResolveAllSourcesFail(t *testing.T) {
	a := newEchoServer(t, http.StatusInternalServerError, "")
	b := newEchoServer(t, http.StatusOK, "2001:db8::1")

	m := metrics.New(true)
	r, err := New([]string{a.URL, b.URL}, http.DefaultClient, m)
	require.NoError(t, err)

	addr, err := r.Resolve(context.Background())
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrNoAddressFound))
	assert.False(t, addr.IsValid())
	assert.Contains(t, err.Error(), a.URL)
	assert.Contains(t, err.Error(), b.URL)
	assert.Equal(t, 1, a.Hits())
	assert.Equal(t, 1, b.Hits())

	count, err := testutil.GatherAndCount(m.Gatherer(), "cf_ddns_sync_ip_lookups_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestResolveSendsNoCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
		io.WriteString(w, "1.2.3.4")
	}))
	defer srv.Close()

	r, err := New([]string{srv.URL}, srv.Client(), metrics.New(false))
	require.NoError(t, err)

	_, err = r.Resolve(context.Background())
	assert.NoError(t, err)
}

func TestNewRequiresSources(t *testing.T) {
	_, err := New(nil, http.DefaultClient, metrics.New(false))
	assert.Error(t, err)
}
