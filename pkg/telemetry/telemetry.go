package telemetry

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Metrics aggregates counters for one analysis session.
type Metrics struct {
	EventsParsed int64
	BytesRead    int64
	Issues       int64
	CacheHits    int64
	CacheMisses  int64
	Errors       int64

	nanos atomic.Int64
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// AddEvents atomically increments the events parsed counter.
func (m *Metrics) AddEvents(n int64) { atomic.AddInt64(&m.EventsParsed, n) }

// AddBytes atomically increments bytes read.
func (m *Metrics) AddBytes(n int64) { atomic.AddInt64(&m.BytesRead, n) }

// AddIssues atomically increments the reconstruction issue counter.
func (m *Metrics) AddIssues(n int64) { atomic.AddInt64(&m.Issues, n) }

// CacheHit counts a cached result.
func (m *Metrics) CacheHit() { atomic.AddInt64(&m.CacheHits, 1) }

// CacheMiss counts a computed result.
func (m *Metrics) CacheMiss() { atomic.AddInt64(&m.CacheMisses, 1) }

// Summary returns a snapshot of collected metrics.
func (m *Metrics) Summary() MetricsSummary {
	return MetricsSummary{
		EventsParsed: atomic.LoadInt64(&m.EventsParsed),
		BytesRead:    atomic.LoadInt64(&m.BytesRead),
		Issues:       atomic.LoadInt64(&m.Issues),
		CacheHits:    atomic.LoadInt64(&m.CacheHits),
		CacheMisses:  atomic.LoadInt64(&m.CacheMisses),
		Errors:       atomic.LoadInt64(&m.Errors),
		Busy:         time.Duration(m.nanos.Load()),
	}
}

// MetricsSummary is a snapshot of metrics.
type MetricsSummary struct {
	EventsParsed int64         `json:"events_parsed"`
	BytesRead    int64         `json:"bytes_read"`
	Issues       int64         `json:"issues"`
	CacheHits    int64         `json:"cache_hits"`
	CacheMisses  int64         `json:"cache_misses"`
	Errors       int64         `json:"errors"`
	Busy         time.Duration `json:"busy_ns"`
}

// ToJSON serializes the summary to JSON.
func (s MetricsSummary) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// InstrumentedOperation runs op inside a span and accounts its time and
// failure in metrics. metrics may be nil.
func InstrumentedOperation(ctx context.Context, metrics *Metrics, name string, op func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := Start(ctx, name, attrs...)
	start := time.Now()

	err := op(ctx)

	elapsed := time.Since(start)
	if metrics != nil {
		metrics.nanos.Add(int64(elapsed))
		if err != nil {
			atomic.AddInt64(&metrics.Errors, 1)
		}
	}
	span.SetAttributes(attribute.Int64("duration_ms", elapsed.Milliseconds()))
	End(span, err)
	return err
}
