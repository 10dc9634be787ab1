// Package transport builds the single HTTP client shared by every outbound
// call of a run.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

var ErrInsecureScheme = errors.New("refusing non-https request")

type Options struct {
	Timeout   time.Duration
	UserAgent string
	// AllowHTTP lifts the https-only restriction, for local test servers.
	AllowHTTP bool
}

// NewClient returns a client whose requests are bounded by opts.Timeout as a
// whole, only dial IPv4 and, unless AllowHTTP is set, only speak https.
// The client is not modified after construction.
func NewClient(opts Options) *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	tr := cleanhttp.DefaultPooledTransport()
	tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.DialContext(ctx, ipv4Only(network), addr)
	}

	var rt http.RoundTripper = tr
	if opts.UserAgent != "" {
		rt = &userAgentTransport{next: rt, userAgent: opts.UserAgent}
	}
	if !opts.AllowHTTP {
		rt = &httpsOnlyTransport{next: rt}
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: rt,
	}
}

func ipv4Only(network string) string {
	switch network {
	case "tcp", "tcp4", "tcp6":
		return "tcp4"
	case "udp", "udp4", "udp6":
		return "udp4"
	}
	return network
}

// httpsOnlyTransport sits outermost so redirects to plain http are refused too.
type httpsOnlyTransport struct {
	next http.RoundTripper
}

func (t *httpsOnlyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s", ErrInsecureScheme, req.URL.Redacted())
	}
	return t.next.RoundTrip(req)
}

type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.next.RoundTrip(req)
}
