package resolver

import (
	"errors"

	"github.com/picatz/geodoh/pkg/dj"
)

var (
	// ErrInvalidHostname is returned before any I/O for names that are not
	// valid domain names.
	ErrInvalidHostname = errors.New("resolver: invalid hostname")

	// ErrRaceFailed is returned when no provider could be claimed, for
	// example because the race timed out.
	ErrRaceFailed = errors.New("resolver: no provider available")

	// ErrRequestFailed covers network errors, non-2xx responses and
	// malformed bodies.
	ErrRequestFailed = errors.New("resolver: request failed")

	// ErrNoAnswerSection is returned when the response has no Answer list.
	ErrNoAnswerSection = dj.ErrNoAnswerSection

	// ErrNoARecord is returned when the Answer list has no A record.
	ErrNoARecord = dj.ErrNoARecord

	// ErrEnrichmentFailed is returned when the resolved address has no
	// usable country code.
	ErrEnrichmentFailed = errors.New("resolver: enrichment failed")
)

// Failure kinds, as reported by Kind and used as metric labels.
const (
	KindInvalidHostname  = "invalid_hostname"
	KindRaceFailed       = "race_failed"
	KindRequestFailed    = "request_failed"
	KindNoAnswerSection  = "no_answer_section"
	KindNoARecord        = "no_a_record"
	KindEnrichmentFailed = "enrichment_failed"
	KindUnknown          = "unknown"
)

// Kind classifies an error returned by Resolve.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidHostname):
		return KindInvalidHostname
	case errors.Is(err, ErrRaceFailed):
		return KindRaceFailed
	case errors.Is(err, ErrRequestFailed):
		return KindRequestFailed
	case errors.Is(err, ErrNoAnswerSection):
		return KindNoAnswerSection
	case errors.Is(err, ErrNoARecord):
		return KindNoARecord
	case errors.Is(err, ErrEnrichmentFailed):
		return KindEnrichmentFailed
	default:
		return KindUnknown
	}
}
