package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/evanofslack/cf-ddns-sync/internal/config"
	"github.com/evanofslack/cf-ddns-sync/internal/metrics"
	"github.com/evanofslack/cf-ddns-sync/internal/provider"
)

const (
	perPage      = 100
	maxBodyBytes = 8 << 20
)

type Httper interface {
	Do(req *http.Request) (*http.Response, error)
}

// CloudflareProvider talks to the v4 dns_records endpoints directly so that
// every listing and every patch is exactly one request, authenticated with
// both X-Auth-Email and a bearer key.
type CloudflareProvider struct {
	baseURL   string
	authKey   string
	authEmail string
	http      Httper
	metrics   *metrics.Metrics
}

func New(cfg *config.Config, http Httper, metrics *metrics.Metrics) (*CloudflareProvider, error) {
	if cfg.AuthKey == "" || cfg.AuthEmail == "" {
		return nil, fmt.Errorf("cloudflare auth key and email required")
	}
	if _, err := url.Parse(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("parse cloudflare api url: %w", err)
	}
	return &CloudflareProvider{
		baseURL:   strings.TrimSuffix(cfg.APIURL, "/"),
		authKey:   cfg.AuthKey,
		authEmail: cfg.AuthEmail,
		http:      http,
		metrics:   metrics,
	}, nil
}

// envelope is the wrapper around every v4 response.
type envelope[T any] struct {
	Success    bool                   `json:"success"`
	Result     T                      `json:"result"`
	Errors     []message              `json:"errors"`
	ResultInfo *cloudflare.ResultInfo `json:"result_info,omitempty"`
}

// message accepts both the documented {"code","message"} objects and bare
// strings.
type message string

func (m *message) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = message(s)
		return nil
	}
	var info cloudflare.ResponseInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return err
	}
	if info.Code != 0 {
		*m = message(fmt.Sprintf("%d: %s", info.Code, info.Message))
	} else {
		*m = message(info.Message)
	}
	return nil
}

func messages(ms []message) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, string(m))
	}
	return out
}

// GetRecords lists the zone's A records in provider order, following
// pagination when the zone spans more than one page.
func (p *CloudflareProvider) GetRecords(ctx context.Context, zone string) ([]provider.Record, error) {
	slog.Debug("Getting DNS records", "zone", zone)
	start := time.Now()

	var result []provider.Record
	page := 1
	for {
		env, err := p.listPage(ctx, zone, page)
		if err != nil {
			p.metrics.IncDNSRequest("list", zone, false)
			return nil, err
		}
		p.metrics.IncDNSRequest("list", zone, true)

		for _, r := range env.Result {
			if r.Type != provider.TypeA {
				continue
			}
			addr, err := netip.ParseAddr(r.Content)
			if err != nil || !addr.Is4() {
				return nil, fmt.Errorf("record %s (%s) has invalid A content %q", r.ID, r.Name, r.Content)
			}
			result = append(result, provider.Record{
				ID:    r.ID,
				Type:  r.Type,
				Name:  r.Name,
				Value: addr,
			})
		}

		if env.ResultInfo == nil || page >= env.ResultInfo.TotalPages {
			break
		}
		page++
	}

	slog.Debug("Retrieved DNS records", "zone", zone, "count", len(result), "duration", time.Since(start))
	return result, nil
}

func (p *CloudflareProvider) listPage(ctx context.Context, zone string, page int) (envelope[[]cloudflare.DNSRecord], error) {
	const op = "list records"
	var env envelope[[]cloudflare.DNSRecord]

	query := url.Values{}
	query.Set("type", provider.TypeA)
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))
	endpoint := p.recordsURL(zone) + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return env, fmt.Errorf("%s: %w", op, err)
	}
	p.authenticate(req)

	resp, err := p.http.Do(req)
	if err != nil {
		return env, &provider.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return env, &provider.TransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	if err := json.Unmarshal(body, &env); err != nil {
		apiErr := &provider.APIError{Op: op, Messages: []string{fmt.Sprintf("malformed response: %v", err)}}
		if !isSuccess(resp.StatusCode) {
			apiErr.StatusCode = resp.StatusCode
		}
		return env, apiErr
	}
	if !isSuccess(resp.StatusCode) {
		return env, &provider.APIError{Op: op, StatusCode: resp.StatusCode, Messages: messages(env.Errors)}
	}
	if !env.Success {
		return env, &provider.APIError{Op: op, Messages: messages(env.Errors)}
	}
	return env, nil
}

// UpdateRecord patches only the content of the record. Success is decided by
// the status class; the error envelope, when present, only adds detail.
func (p *CloudflareProvider) UpdateRecord(ctx context.Context, zone string, record provider.Record, addr netip.Addr) error {
	const op = "update record"
	slog.Debug("Updating DNS record", "zone", zone, "id", record.ID, "name", record.Name, "data", addr.String())
	start := time.Now()

	payload, err := json.Marshal(struct {
		Content string `json:"content"`
	}{Content: addr.String()})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	endpoint := p.recordsURL(zone) + "/" + url.PathEscape(record.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	p.authenticate(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		p.metrics.IncDNSRequest("update", zone, false)
		return &provider.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		p.metrics.IncDNSRequest("update", zone, false)
		var env envelope[json.RawMessage]
		if body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes)); err == nil {
			// A body that is not an envelope just means no extra detail.
			_ = json.Unmarshal(body, &env)
		}
		return &provider.APIError{Op: op, StatusCode: resp.StatusCode, Messages: messages(env.Errors)}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	p.metrics.IncDNSRequest("update", zone, true)
	slog.Debug("Updated DNS record", "zone", zone, "id", record.ID, "name", record.Name, "duration", time.Since(start))
	return nil
}

func (p *CloudflareProvider) recordsURL(zone string) string {
	return p.baseURL + "/zones/" + url.PathEscape(zone) + "/dns_records"
}

func (p *CloudflareProvider) authenticate(req *http.Request) {
	req.Header.Set("X-Auth-Email", p.authEmail)
	req.Header.Set("Authorization", "Bearer "+p.authKey)
	req.Header.Set("Accept", "application/json")
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
