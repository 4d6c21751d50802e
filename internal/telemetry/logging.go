// Package telemetry wires structured logging and OpenTelemetry metrics
// for the ingestion engine. There is no package-level global logger or
// meter: callers build one *Telemetry at process start and pass it
// through constructors, per spec.md §9's advisory against global
// singletons.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// Telemetry bundles the logger and meter handles threaded through every
// component constructor (C1-C11).
type Telemetry struct {
	Log   *zap.Logger
	Meter metric.Meter

	provider *sdkmetric.MeterProvider
}

// Config controls telemetry construction.
type Config struct {
	Development bool // human-readable console logging instead of JSON
	ServiceName string
}

// New builds a Telemetry handle. The returned Telemetry.Shutdown must be
// called during process teardown to flush the metric provider.
func New(cfg Config) (*Telemetry, error) {
	var logger *zap.Logger
	var err error
	if cfg.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider()
	meter := provider.Meter(cfg.ServiceName)

	return &Telemetry{Log: logger, Meter: meter, provider: provider}, nil
}

// Shutdown flushes buffered metrics and syncs the logger.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	_ = t.Log.Sync()
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// WithFile returns a child logger scoped to one file's processing,
// carrying file_id and correlation_id on every subsequent line.
func WithFile(log *zap.Logger, fileID, correlationID string) *zap.Logger {
	return log.With(zap.String("file_id", fileID), zap.String("correlation_id", correlationID))
}
