// Package fetch implements the Fetcher (spec.md §4.3): the local-FS
// variant watches a directory for ready files; the DHPO variant polls a
// SOAP endpoint per facility. Only one backend is active at a time,
// selected by ingestion.fetch_backend.
package fetch

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/queue"
)

// LocalFS watches a ready/ directory for files made visible by atomic
// rename, and offers a WorkItem per file. Each file moves to archive/ as
// soon as it has been offered to the queue, whatever its parse outcome;
// MarkFailed can move a file to failed/, but nothing in the engine calls
// it, so parse failures are not moved there. The dependency
// (fsnotify) and the watch-then-react shape follow the teacher's own
// go.mod declaration of fsnotify for exactly this kind of directory
// watch.
type LocalFS struct {
	readyDir     string
	archiveDir   string
	failedDir    string
	q            *queue.Queue
	gate         *queue.BackpressureGate
	log          *zap.Logger
	offerTimeout time.Duration
}

// NewLocalFS builds a LocalFS fetcher rooted at readyDir, moving offered
// files to archiveDir; failedDir is used only by MarkFailed. pauseHigh/resumeLow are the
// queue-fill-ratio hysteresis watermarks from spec.md §5; pauseHigh <= 0
// disables the gate.
func NewLocalFS(readyDir, archiveDir, failedDir string, q *queue.Queue, pauseHigh, resumeLow float64, log *zap.Logger) *LocalFS {
	return &LocalFS{
		readyDir:     readyDir,
		archiveDir:   archiveDir,
		failedDir:    failedDir,
		q:            q,
		gate:         queue.NewBackpressureGate(q, pauseHigh, resumeLow),
		log:          log,
		offerTimeout: 250 * time.Millisecond,
	}
}

// Run watches readyDir until stop is closed. It first drains any files
// already present (a restart must not lose work), then reacts to
// fsnotify Create/Rename events.
func (f *LocalFS) Run(stop <-chan struct{}) error {
	for _, dir := range []string{f.readyDir, f.archiveDir, f.failedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	if err := f.drainExisting(); err != nil {
		f.log.Warn("drain existing ready files failed", zap.Error(err))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(f.readyDir); err != nil {
		return fmt.Errorf("watch %s: %w", f.readyDir, err)
	}

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			f.handleFile(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.log.Warn("fsnotify watcher error", zap.Error(err))
		}
	}
}

func (f *LocalFS) drainExisting() error {
	entries, err := os.ReadDir(f.readyDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f.handleFile(filepath.Join(f.readyDir, e.Name()))
	}
	return nil
}

func (f *LocalFS) handleFile(path string) {
	if f.gate.Paused() {
		// Queue fill ratio crossed pauseHighWatermark (spec.md §5): leave
		// the file in ready/ untouched. Nothing re-scans ready/ when the
		// gate reopens; the file is offered again only by the drain at the
		// next Run or by a later Create/Rename event on the same path.
		// Distinct from Offer's own per-tick timeout below.
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return // gone already, or a directory event we don't care about
	}

	bytes, err := os.ReadFile(path) // #nosec G304 - path is within the operator-configured ready dir
	if err != nil {
		f.log.Warn("read ready file failed", zap.String("path", path), zap.Error(err))
		return
	}

	fileID := filepath.Base(path)
	item := queue.WorkItem{
		FileID:        fileID,
		Bytes:         bytes,
		SourcePath:    path,
		Source:        "localfs",
		CorrelationID: uuid.NewString(),
	}

	if !f.q.Offer(item, f.offerTimeout) {
		// Back-pressure: leave the file in ready/ rather than drop it
		// (spec.md §4.3). It is offered again only by the drain at the
		// next Run or by a later Create/Rename event on the same path.
		f.log.Warn("queue full, deferring file", zap.String("file_id", fileID))
		return
	}

	f.archive(path)
}

// archive moves path into archiveDir after it has been successfully
// offered to the queue. Files that later fail to parse stay in
// archiveDir.
func (f *LocalFS) archive(path string) {
	dest := filepath.Join(f.archiveDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		f.log.Warn("archive ready file failed", zap.String("path", path), zap.Error(err))
	}
}

// MarkFailed moves a file from the ready/archive location to failedDir.
// Nothing in the engine calls it: neither the orchestrator nor the
// pipeline moves a file after a failed parse.
func (f *LocalFS) MarkFailed(sourcePath string) error {
	if sourcePath == "" {
		return nil
	}
	dest := filepath.Join(f.failedDir, filepath.Base(sourcePath))
	if _, err := os.Stat(sourcePath); os.IsNotExist(err) {
		// Already archived; fall back to the archive copy.
		sourcePath = filepath.Join(f.archiveDir, filepath.Base(sourcePath))
	}
	return os.Rename(sourcePath, dest)
}
