package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/model"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/queue"
)

type countingProcessor struct {
	processed atomic.Int64
	fail      map[string]bool
}

func (p *countingProcessor) Process(_ context.Context, item queue.WorkItem) FileOutcome {
	p.processed.Add(1)
	if p.fail[item.FileID] {
		return FileOutcome{Status: model.FileFail}
	}
	return FileOutcome{Status: model.FileOK}
}

type fakeRunRecorder struct {
	mu      sync.Mutex
	opened  int
	closed  int
	lastOK  int
	lastFail int
}

func (r *fakeRunRecorder) OpenRun(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened++
	return int64(r.opened), nil
}

func (r *fakeRunRecorder) CloseRun(_ context.Context, _ int64, _, ok, failed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	r.lastOK = ok
	r.lastFail = failed
	return nil
}

func TestOrchestratorDrainsQueuedItemsAndClosesRun(t *testing.T) {
	q := queue.New(8)
	require.True(t, q.Offer(queue.WorkItem{FileID: "a"}, time.Second))
	require.True(t, q.Offer(queue.WorkItem{FileID: "b"}, time.Second))

	proc := &countingProcessor{fail: map[string]bool{"b": true}}
	runs := &fakeRunRecorder{}
	o := New(q, proc, runs, Config{TickInterval: 10 * time.Millisecond, ParserWorkers: 2}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = o.Run(ctx)

	assert.Equal(t, int64(2), proc.processed.Load())
	runs.mu.Lock()
	defer runs.mu.Unlock()
	assert.GreaterOrEqual(t, runs.opened, 1)
	assert.GreaterOrEqual(t, runs.closed, 1)
	assert.Equal(t, 1, runs.lastFail)
}

func TestOrchestratorPauseStopsDraining(t *testing.T) {
	q := queue.New(4)
	require.True(t, q.Offer(queue.WorkItem{FileID: "a"}, time.Second))

	proc := &countingProcessor{fail: map[string]bool{}}
	runs := &fakeRunRecorder{}
	o := New(q, proc, runs, Config{TickInterval: 5 * time.Millisecond, ParserWorkers: 1}, zap.NewNop())
	o.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = o.Run(ctx)

	assert.Equal(t, int64(0), proc.processed.Load())
	assert.Equal(t, int64(1), q.Depth())
}

func TestOrchestratorIdleTickNeverOpensRun(t *testing.T) {
	q := queue.New(4)
	proc := &countingProcessor{fail: map[string]bool{}}
	runs := &fakeRunRecorder{}
	o := New(q, proc, runs, Config{TickInterval: 5 * time.Millisecond, ParserWorkers: 1}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_ = o.Run(ctx)

	runs.mu.Lock()
	defer runs.mu.Unlock()
	assert.Equal(t, 0, runs.opened)
}
