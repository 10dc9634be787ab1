package provider

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

const TypeA = "A"

var ErrNoRecords = errors.New("no A records found")

// Provider lists a zone's A records and rewrites the address of one of them.
type Provider interface {
	GetRecords(ctx context.Context, zone string) ([]Record, error)
	UpdateRecord(ctx context.Context, zone string, record Record, addr netip.Addr) error
}

// Record is an A record as the provider reports it. ID is the identity; Name
// is only for matching and display.
type Record struct {
	ID    string
	Type  string
	Name  string
	Value netip.Addr
}

// APIError is a request the provider answered, but not with success.
type APIError struct {
	Op         string
	StatusCode int
	Messages   []string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: provider api error", e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	if len(e.Messages) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Messages, "; "))
	}
	return b.String()
}

// TransportError is a request that could not be completed at all, timeouts
// included.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
