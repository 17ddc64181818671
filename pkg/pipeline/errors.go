// Package pipeline provides row-level error policies for artifact decoding.
package pipeline

import (
	"fmt"
	"sync"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
)

// ErrorPolicy determines how malformed rows are handled.
type ErrorPolicy int

const (
	// ErrorPolicySkip drops bad rows and continues.
	ErrorPolicySkip ErrorPolicy = iota
	// ErrorPolicyStrict aborts on the first bad row.
	ErrorPolicyStrict
)

func (p ErrorPolicy) String() string {
	switch p {
	case ErrorPolicySkip:
		return "skip"
	case ErrorPolicyStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// ParseErrorPolicy parses a policy name. Simulation logs are noisy, so
// anything unrecognised falls back to skip.
func ParseErrorPolicy(s string) ErrorPolicy {
	if s == "strict" {
		return ErrorPolicyStrict
	}
	return ErrorPolicySkip
}

// ErrorType categorizes row errors.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeMalformedRow
	ErrorTypeInvalidNumber
	ErrorTypeTruncated
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeMalformedRow:
		return "malformed_row"
	case ErrorTypeInvalidNumber:
		return "invalid_number"
	case ErrorTypeTruncated:
		return "truncated"
	default:
		return "unknown"
	}
}

// ErrorRecord describes one rejected row.
type ErrorRecord struct {
	// Row is the 1-based line number, header included.
	Row       int64
	Column    string
	Message   string
	ErrorType ErrorType
	Source    string
}

// ErrorHandler applies an ErrorPolicy and keeps statistics.
type ErrorHandler struct {
	mu sync.Mutex

	policy    ErrorPolicy
	maxErrors int64 // 0 = unlimited
	count     int64
	skipped   int64

	records   []ErrorRecord
	maxStored int

	onSkip func(ErrorRecord)
}

// NewErrorHandler creates a handler with the given policy.
func NewErrorHandler(policy ErrorPolicy) *ErrorHandler {
	return &ErrorHandler{
		policy:    policy,
		maxStored: 100,
	}
}

// WithMaxErrors aborts once max rows have failed, whatever the policy.
func (h *ErrorHandler) WithMaxErrors(max int64) *ErrorHandler {
	h.maxErrors = max
	return h
}

// WithOnSkip sets a callback invoked for every skipped row.
func (h *ErrorHandler) WithOnSkip(fn func(ErrorRecord)) *ErrorHandler {
	h.onSkip = fn
	return h
}

// Handle records rec and reports whether decoding should continue.
func (h *ErrorHandler) Handle(rec ErrorRecord) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	if len(h.records) < h.maxStored {
		h.records = append(h.records, rec)
	}

	if h.maxErrors > 0 && h.count >= h.maxErrors {
		return false, bferrors.New(bferrors.CodeInvalidFormat, "too many malformed rows").
			With("max", h.maxErrors).
			With("row", rec.Row).
			With("source", rec.Source)
	}

	switch h.policy {
	case ErrorPolicyStrict:
		return false, bferrors.New(bferrors.CodeInvalidFormat, rec.Message).
			With("row", rec.Row).
			With("type", rec.ErrorType.String()).
			With("source", rec.Source)
	case ErrorPolicySkip:
		h.skipped++
		if h.onSkip != nil {
			h.onSkip(rec)
		}
		return true, nil
	default:
		return false, fmt.Errorf("unknown error policy %d", h.policy)
	}
}

// Stats contains error statistics.
type Stats struct {
	Errors  int64
	Skipped int64
	Policy  ErrorPolicy
}

// Stats returns current statistics.
func (h *ErrorHandler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Errors: h.count, Skipped: h.skipped, Policy: h.policy}
}

// Records returns a copy of the stored error records.
func (h *ErrorHandler) Records() []ErrorRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ErrorRecord, len(h.records))
	copy(out, h.records)
	return out
}
