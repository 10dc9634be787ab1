package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/evanofslack/cf-ddns-sync/internal/filter"
	"github.com/evanofslack/cf-ddns-sync/internal/metrics"
	"github.com/evanofslack/cf-ddns-sync/internal/provider"
)

type Resolver interface {
	Resolve(ctx context.Context) (netip.Addr, error)
}

// Engine runs one pass: resolve the address, list the zone's A records,
// filter them and patch the ones that drifted. Any failure before the patch
// phase ends the pass with nothing written.
type Engine struct {
	resolver    Resolver
	dnsProvider provider.Provider
	filter      *filter.Filter
	zone        string
	dryRun      bool
	metrics     *metrics.Metrics
}

func NewEngine(r Resolver, dp provider.Provider, f *filter.Filter, zone string, dryRun bool, metrics *metrics.Metrics) *Engine {
	if f == nil {
		f, _ = filter.New(nil, true)
	}
	return &Engine{
		resolver:    r,
		dnsProvider: dp,
		filter:      f,
		zone:        zone,
		dryRun:      dryRun,
		metrics:     metrics,
	}
}

// Run returns provider.ErrNoRecords or filter.ErrAllFiltered when there is
// nothing to reconcile; callers treat both as a clean exit.
func (e *Engine) Run(ctx context.Context) (Results, error) {
	slog.Info("Getting external ipv4 address")
	addr, err := e.resolver.Resolve(ctx)
	if err != nil {
		return Results{}, fmt.Errorf("resolve address: %w", err)
	}
	results := Results{Address: addr}

	slog.Info("Listing DNS A records", "zone", e.zone)
	records, err := e.dnsProvider.GetRecords(ctx, e.zone)
	if err != nil {
		return results, fmt.Errorf("get records for zone %s: %w", e.zone, err)
	}
	if len(records) == 0 {
		return results, provider.ErrNoRecords
	}

	selection, err := e.filter.Apply(records)
	results.Total, results.Excluded = selection.Total, selection.Excluded
	if err != nil {
		return results, err
	}
	slog.Info("Got records from dns provider", "count", selection.Total, "filtered", selection.Excluded)

	results.Records = e.Reconcile(ctx, addr, selection.Selected)
	return results, nil
}

// Reconcile visits records in order and patches every record whose value is
// not addr. A failed record never stops the loop.
func (e *Engine) Reconcile(ctx context.Context, addr netip.Addr, records []provider.Record) []RecordResult {
	results := make([]RecordResult, 0, len(records))

	for i, record := range records {
		res := RecordResult{Index: i + 1, Record: record}
		log := slog.With("index", res.Index, "name", record.Name, "id", record.ID)

		switch {
		case record.Value == addr:
			res.Outcome = OutcomeUpToDate
			log.Info("Record up to date", "data", addr.String())

		case e.dryRun:
			res.Outcome = OutcomePlanned
			log.Info("Dry run mode - would update record", "from", record.Value.String(), "to", addr.String())

		default:
			err := e.dnsProvider.UpdateRecord(ctx, e.zone, record, addr)
			if err != nil {
				res.Outcome = OutcomeFailed
				res.Err = err
				log.Error("Failed to update record", append(errorAttrs(err), "from", record.Value.String(), "to", addr.String())...)
			} else {
				res.Outcome = OutcomeUpdated
				log.Info("Updated record", "from", record.Value.String(), "to", addr.String())
			}
		}

		e.metrics.IncRecordOutcome(string(res.Outcome))
		results = append(results, res)
	}
	return results
}

func errorAttrs(err error) []any {
	attrs := []any{"error", err, "reason", failureReason(err)}
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		attrs = append(attrs, "status", apiErr.StatusCode)
		if len(apiErr.Messages) > 0 {
			attrs = append(attrs, "messages", apiErr.Messages)
		}
	}
	return attrs
}
