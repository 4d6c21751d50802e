// Package orchestrator implements the Orchestrator (spec.md §4.5): a
// fixed-delay tick drains the bounded work queue into a fixed-size
// worker pool, opening and closing one IngestionRun per drain cycle.
package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/model"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/queue"
)

// FileProcessor is the per-file pipeline the orchestrator drives: parse,
// persist, verify, and (conditionally) ack one WorkItem. Implemented by
// internal/pipeline.Pipeline, which cmd/ingestiond constructs; kept as an interface
// here so the orchestrator's own tests don't need a real database.
type FileProcessor interface {
	Process(ctx context.Context, item queue.WorkItem) FileOutcome
}

// FileOutcome summarizes one file's terminal status for run bookkeeping.
type FileOutcome struct {
	Status model.FileStatus
}

// RunRecorder persists IngestionRun lifecycle transitions. Implemented
// by internal/audit; abstracted here so unit tests can stub it out.
type RunRecorder interface {
	OpenRun(ctx context.Context) (int64, error)
	CloseRun(ctx context.Context, runID int64, total, ok, failed int) error
}

// Config controls the orchestrator's tick cadence and worker pool size.
type Config struct {
	TickInterval  time.Duration // default 500ms, spec.md §6 poll_ms
	ParserWorkers int           // default 4
	PerFileBudget time.Duration // default 5m, spec.md §5
}

// Orchestrator drains q on a fixed tick into ParserWorkers goroutines,
// opening an IngestionRun on the first item seen after being idle and
// closing it once the drain empties and a subsequent tick sees nothing.
type Orchestrator struct {
	q         *queue.Queue
	processor FileProcessor
	runs      RunRecorder
	cfg       Config
	log       *zap.Logger

	paused atomic.Bool
}

// New builds an Orchestrator.
func New(q *queue.Queue, processor FileProcessor, runs RunRecorder, cfg Config, log *zap.Logger) *Orchestrator {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	if cfg.ParserWorkers == 0 {
		cfg.ParserWorkers = 4
	}
	if cfg.PerFileBudget == 0 {
		cfg.PerFileBudget = 5 * time.Minute
	}
	return &Orchestrator{q: q, processor: processor, runs: runs, cfg: cfg, log: log}
}

// Pause stops further drains from starting (in-flight files still
// complete). Resume re-enables them. Used by back-pressure/health logic
// external to the orchestrator itself.
func (o *Orchestrator) Pause()  { o.paused.Store(true) }
func (o *Orchestrator) Resume() { o.paused.Store(false) }
func (o *Orchestrator) Paused() bool { return o.paused.Load() }

// Run ticks until ctx is cancelled, then waits for the in-flight drain
// (if any) to finish before returning — the "join workers" teardown step
// named in the re-architecture advisory.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	var runID int64
	var runOpen bool
	var runTotal, runOK, runFailed int

	for {
		select {
		case <-ctx.Done():
			if runOpen {
				o.closeRun(context.Background(), runID, runTotal, runOK, runFailed)
			}
			return nil
		case <-ticker.C:
			if o.paused.Load() {
				continue
			}
			items := o.drain()
			if len(items) == 0 {
				if runOpen {
					o.closeRun(context.Background(), runID, runTotal, runOK, runFailed)
					runOpen = false
					runTotal, runOK, runFailed = 0, 0, 0
				}
				continue
			}

			if !runOpen {
				id, err := o.runs.OpenRun(ctx)
				if err != nil {
					o.log.Error("open ingestion run failed", zap.Error(err))
					continue
				}
				runID = id
				runOpen = true
			}

			total, okCount, failed := o.processBatch(ctx, items)
			runTotal += total
			runOK += okCount
			runFailed += failed
		}
	}
}

// drain pulls every item currently buffered in q, non-blocking, up to
// one tick's worth of work.
func (o *Orchestrator) drain() []queue.WorkItem {
	var items []queue.WorkItem
	depth := o.q.Depth()
	for i := int64(0); i < depth; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		item, ok := o.q.Take(ctx)
		cancel()
		if !ok {
			break
		}
		items = append(items, item)
	}
	return items
}

func (o *Orchestrator) processBatch(ctx context.Context, items []queue.WorkItem) (total, okCount, failed int) {
	sem := make(chan struct{}, o.cfg.ParserWorkers)
	group, gctx := errgroup.WithContext(ctx)

	var okCounter, failCounter atomic.Int64
	for _, item := range items {
		item := item
		sem <- struct{}{}
		group.Go(func() error {
			defer func() { <-sem }()
			fileCtx, cancel := context.WithTimeout(gctx, o.cfg.PerFileBudget)
			defer cancel()

			outcome := o.processor.Process(fileCtx, item)
			if outcome.Status == model.FileFail {
				failCounter.Add(1)
			} else {
				okCounter.Add(1)
			}
			return nil // a single file's failure never aborts the batch
		})
	}
	_ = group.Wait()

	return len(items), int(okCounter.Load()), int(failCounter.Load())
}

func (o *Orchestrator) closeRun(ctx context.Context, runID int64, total, ok, failed int) {
	if err := o.runs.CloseRun(ctx, runID, total, ok, failed); err != nil {
		o.log.Error("close ingestion run failed", zap.Int64("run_id", runID), zap.Error(err))
	}
}
