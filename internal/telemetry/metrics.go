package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics holds the counters/timers named in spec.md §4.11 and
// §4.4 (queue depth). Instruments are created once at startup and shared
// across components via this struct rather than recreated ad hoc.
type EngineMetrics struct {
	QueueDepth       metric.Int64ObservableGauge
	FilesProcessed   metric.Int64Counter
	FilesFailed      metric.Int64Counter
	VerifyFailures   metric.Int64Counter
	BatchInsertDur   metric.Float64Histogram
	AckAttempts      metric.Int64Counter
	AckFailures      metric.Int64Counter
}

// NewEngineMetrics registers the engine's OTel instruments against meter.
// depthFn is polled by the observable gauge callback to report current
// queue depth without the queue needing to know about OTel.
func NewEngineMetrics(meter metric.Meter, depthFn func() int64) (*EngineMetrics, error) {
	m := &EngineMetrics{}
	var err error

	m.QueueDepth, err = meter.Int64ObservableGauge(
		"ingestion.queue.depth",
		metric.WithDescription("current depth of the bounded work queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(depthFn())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	m.FilesProcessed, err = meter.Int64Counter("ingestion.files.processed",
		metric.WithDescription("files that completed processing, any terminal status"))
	if err != nil {
		return nil, err
	}

	m.FilesFailed, err = meter.Int64Counter("ingestion.files.failed",
		metric.WithDescription("files that ended in FAIL status"))
	if err != nil {
		return nil, err
	}

	m.VerifyFailures, err = meter.Int64Counter("ingestion.verify.failures",
		metric.WithDescription("post-write verification failures"))
	if err != nil {
		return nil, err
	}

	m.BatchInsertDur, err = meter.Float64Histogram("ingestion.batch.insert.duration_ms",
		metric.WithDescription("duration of one persist batch insert"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	m.AckAttempts, err = meter.Int64Counter("ingestion.ack.attempts")
	if err != nil {
		return nil, err
	}

	m.AckFailures, err = meter.Int64Counter("ingestion.ack.failures")
	if err != nil {
		return nil, err
	}

	return m, nil
}
