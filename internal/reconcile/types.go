package reconcile

import (
	"errors"
	"net/netip"

	"github.com/evanofslack/cf-ddns-sync/internal/provider"
)

type Outcome string

const (
	OutcomeUpToDate Outcome = "up_to_date"
	OutcomeUpdated  Outcome = "updated"
	OutcomePlanned  Outcome = "planned" // dry run, update skipped
	OutcomeFailed   Outcome = "failed"
)

type Verdict string

const (
	VerdictAllOK          Verdict = "all_ok"
	VerdictPartialFailure Verdict = "partial_failure"
)

type RecordResult struct {
	Index   int // 1-based position in the selected records
	Record  provider.Record
	Outcome Outcome
	Err     error
}

// Reason classifies a failed record as "transport" or "api".
func (r RecordResult) Reason() string {
	if r.Outcome != OutcomeFailed {
		return ""
	}
	return failureReason(r.Err)
}

// failureReason is "api" when the provider answered with an error and
// "transport" when the request did not complete.
func failureReason(err error) string {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return "api"
	}
	return "transport"
}

type Results struct {
	Address  netip.Addr
	Total    int // A records returned by the provider
	Excluded int // removed by the filter
	Records  []RecordResult
}

// Verdict is PartialFailure as soon as one record failed.
func (r Results) Verdict() Verdict {
	for _, rec := range r.Records {
		if rec.Outcome == OutcomeFailed {
			return VerdictPartialFailure
		}
	}
	return VerdictAllOK
}

func (r Results) Count(outcome Outcome) int {
	n := 0
	for _, rec := range r.Records {
		if rec.Outcome == outcome {
			n++
		}
	}
	return n
}

func (r Results) Failures() []RecordResult {
	var out []RecordResult
	for _, rec := range r.Records {
		if rec.Outcome == OutcomeFailed {
			out = append(out, rec)
		}
	}
	return out
}
