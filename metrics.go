package idtrack

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/idtrack/model"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordClassify is called after each classification.
	// duration is the total time taken, err is nil if successful.
	RecordClassify(outcome model.Outcome, duration time.Duration, err error)

	// RecordExtract is called after each extractor invocation.
	RecordExtract(vectors int, duration time.Duration, err error)

	// RecordClearAll is called after each store wipe.
	RecordClearAll(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordClassify(model.Outcome, time.Duration, error) {}
func (NoopMetricsCollector) RecordExtract(int, time.Duration, error)            {}
func (NoopMetricsCollector) RecordClearAll(time.Duration, error)                {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ClassifyCount      atomic.Int64
	ClassifyErrors     atomic.Int64
	ClassifyTotalNanos atomic.Int64
	CreatedCount       atomic.Int64
	UpdatedCount       atomic.Int64
	AmbiguousCount     atomic.Int64
	RejectedCount      atomic.Int64
	ExtractCount       atomic.Int64
	ExtractErrors      atomic.Int64
	ClearAllCount      atomic.Int64
	ClearAllErrors     atomic.Int64
}

// RecordClassify implements MetricsCollector.
func (b *BasicMetricsCollector) RecordClassify(outcome model.Outcome, duration time.Duration, err error) {
	b.ClassifyCount.Add(1)
	b.ClassifyTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ClassifyErrors.Add(1)
		return
	}

	switch outcome {
	case model.OutcomeCreated:
		b.CreatedCount.Add(1)
	case model.OutcomeUpdated:
		b.UpdatedCount.Add(1)
	case model.OutcomeAmbiguous:
		b.AmbiguousCount.Add(1)
	case model.OutcomeRejected:
		b.RejectedCount.Add(1)
	}
}

// RecordExtract implements MetricsCollector.
func (b *BasicMetricsCollector) RecordExtract(_ int, _ time.Duration, err error) {
	b.ExtractCount.Add(1)
	if err != nil {
		b.ExtractErrors.Add(1)
	}
}

// RecordClearAll implements MetricsCollector.
func (b *BasicMetricsCollector) RecordClearAll(_ time.Duration, err error) {
	b.ClearAllCount.Add(1)
	if err != nil {
		b.ClearAllErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ClassifyCount:    b.ClassifyCount.Load(),
		ClassifyErrors:   b.ClassifyErrors.Load(),
		ClassifyAvgNanos: b.getAvgClassifyNanos(),
		CreatedCount:     b.CreatedCount.Load(),
		UpdatedCount:     b.UpdatedCount.Load(),
		AmbiguousCount:   b.AmbiguousCount.Load(),
		RejectedCount:    b.RejectedCount.Load(),
		ExtractCount:     b.ExtractCount.Load(),
		ExtractErrors:    b.ExtractErrors.Load(),
		ClearAllCount:    b.ClearAllCount.Load(),
		ClearAllErrors:   b.ClearAllErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgClassifyNanos() int64 {
	count := b.ClassifyCount.Load()
	if count == 0 {
		return 0
	}
	return b.ClassifyTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ClassifyCount    int64
	ClassifyErrors   int64
	ClassifyAvgNanos int64
	CreatedCount     int64
	UpdatedCount     int64
	AmbiguousCount   int64
	RejectedCount    int64
	ExtractCount     int64
	ExtractErrors    int64
	ClearAllCount    int64
	ClearAllErrors   int64
}
