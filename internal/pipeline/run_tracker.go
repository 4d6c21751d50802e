package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/audit"
)

// RunTracker wraps an *audit.Sink so Pipeline can read the currently open
// ingestion_run's id. The orchestrator only ever calls OpenRun/CloseRun
// on internal/orchestrator.RunRecorder directly, without threading the
// id through FileProcessor.Process; RunTracker closes that gap with an
// atomic the Pipeline reads per file.
type RunTracker struct {
	*audit.Sink
	current atomic.Int64
}

// NewRunTracker builds a RunTracker over sink.
func NewRunTracker(sink *audit.Sink) *RunTracker {
	return &RunTracker{Sink: sink}
}

// OpenRun delegates to the wrapped Sink and remembers the id it returns.
func (t *RunTracker) OpenRun(ctx context.Context) (int64, error) {
	id, err := t.Sink.OpenRun(ctx)
	if err != nil {
		return 0, err
	}
	t.current.Store(id)
	return id, nil
}

// CurrentRunID returns the most recently opened run's id, or 0 before any
// run has been opened.
func (t *RunTracker) CurrentRunID() int64 {
	return t.current.Load()
}
