package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"github.com/evanofslack/cf-ddns-sync/internal/metrics"
)

const maxBodyBytes = 1024

var ErrNoAddressFound = errors.New("could not determine external ipv4 address")

type Httper interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebResolver asks plain-text IP echo services for the caller's public IPv4
// address, one source at a time in the configured order.
type WebResolver struct {
	sources []string
	http    Httper
	metrics *metrics.Metrics
}

func New(sources []string, http Httper, metrics *metrics.Metrics) (*WebResolver, error) {
	if len(sources) == 0 {
		return nil, errors.New("no external IP lookup services were provided")
	}
	for _, s := range sources {
		if _, err := url.Parse(s); err != nil {
			return nil, fmt.Errorf("error parsing URL %q: %w", s, err)
		}
	}
	return &WebResolver{
		sources: sources,
		http:    http,
		metrics: metrics,
	}, nil
}

// Resolve returns the address from the first source that answers with a
// valid IPv4 address. Later sources are never contacted once one succeeds.
func (r *WebResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	var errs []error
	for _, source := range r.sources {
		slog.Info("Trying IP source", "url", source)
		addr, err := r.lookup(ctx, source)
		if err != nil {
			slog.Warn("IP source failed", "url", source, "error", err)
			r.metrics.IncIPLookup(source, false)
			errs = append(errs, fmt.Errorf("%s: %w", source, err))
			continue
		}
		r.metrics.IncIPLookup(source, true)
		slog.Info("Resolved external address", "url", source, "ip", addr.String())
		return addr, nil
	}
	return netip.Addr{}, fmt.Errorf("%w: %w", ErrNoAddressFound, errors.Join(errs...))
}

func (r *WebResolver) lookup(ctx context.Context, source string) (netip.Addr, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := r.http.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return netip.Addr{}, fmt.Errorf("http request returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error reading response body: %w", err)
	}
	return parseIPv4(string(body))
}

func parseIPv4(body string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(body))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing IP address from response body: %w", err)
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("not an ipv4 address: %s", addr)
	}
	return addr, nil
}
