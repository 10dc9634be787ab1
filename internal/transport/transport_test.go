package transport

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefusesPlainHTTP(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	client := NewClient(Options{Timeout: time.Second})
	_, err := client.Get(srv.URL)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsecureScheme), "got %v", err)
	assert.Zero(t, hits)
}

func TestSetsUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, r.UserAgent())
	}))
	defer srv.Close()

	client := NewClient(Options{Timeout: time.Second, UserAgent: "cf-ddns-sync/test", AllowHTTP: true})
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "cf-ddns-sync/test", string(body))
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(Options{Timeout: 50 * time.Millisecond, AllowHTTP: true})
	_, err := client.Get(srv.URL)

	require.Error(t, err)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}

func TestDialsIPv4Only(t *testing.T) {
	ln, err := net.Listen("tcp6", "[::1]:0")
	if err != nil {
		t.Skipf("no ipv6 loopback: %v", err)
	}
	srv := &httptest.Server{
		Listener: ln,
		Config:   &http.Server{Handler: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})},
	}
	srv.Start()
	defer srv.Close()

	client := NewClient(Options{Timeout: time.Second, AllowHTTP: true})
	_, err = client.Get(srv.URL)
	assert.Error(t, err)
}

func TestIPv4Only(t *testing.T) {
	assert.Equal(t, "tcp4", ipv4Only("tcp"))
	assert.Equal(t, "tcp4", ipv4Only("tcp6"))
	assert.Equal(t, "udp4", ipv4Only("udp"))
	assert.Equal(t, "unix", ipv4Only("unix"))
}
