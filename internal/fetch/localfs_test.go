package fetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/queue"
)

func newLocalFSHarness(t *testing.T) (*LocalFS, *queue.Queue, string) {
	t.Helper()
	root := t.TempDir()
	readyDir := filepath.Join(root, "ready")
	archiveDir := filepath.Join(root, "archive")
	failedDir := filepath.Join(root, "failed")

	q := queue.New(8)
	f := NewLocalFS(readyDir, archiveDir, failedDir, q, 0.75, 0.50, zap.NewNop())
	return f, q, root
}

func TestLocalFSDrainExistingOffersAndArchivesPreExistingFiles(t *testing.T) {
	f, q, root := newLocalFSHarness(t)
	require.NoError(t, os.MkdirAll(f.readyDir, 0o755))
	require.NoError(t, os.MkdirAll(f.archiveDir, 0o755))
	require.NoError(t, os.MkdirAll(f.failedDir, 0o755))

	readyFile := filepath.Join(f.readyDir, "claim1.xml")
	require.NoError(t, os.WriteFile(readyFile, []byte("<xml/>"), 0o644))

	require.NoError(t, f.drainExisting())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	item, ok := q.Take(ctx)
	require.True(t, ok)
	require.Equal(t, "claim1.xml", item.FileID)
	require.Equal(t, "localfs", item.Source)
	require.Equal(t, []byte("<xml/>"), item.Bytes)

	_, err := os.Stat(readyFile)
	require.True(t, os.IsNotExist(err), "file should have been archived out of ready/")

	_, err = os.Stat(filepath.Join(f.archiveDir, "claim1.xml"))
	require.NoError(t, err)

	_ = root
}

func TestLocalFSMarkFailedMovesArchivedFileToFailedDir(t *testing.T) {
	f, _, _ := newLocalFSHarness(t)
	require.NoError(t, os.MkdirAll(f.readyDir, 0o755))
	require.NoError(t, os.MkdirAll(f.archiveDir, 0o755))
	require.NoError(t, os.MkdirAll(f.failedDir, 0o755))

	archived := filepath.Join(f.archiveDir, "claim2.xml")
	require.NoError(t, os.WriteFile(archived, []byte("<xml/>"), 0o644))

	sourcePath := filepath.Join(f.readyDir, "claim2.xml")
	require.NoError(t, f.MarkFailed(sourcePath))

	_, err := os.Stat(filepath.Join(f.failedDir, "claim2.xml"))
	require.NoError(t, err)
	_, err = os.Stat(archived)
	require.True(t, os.IsNotExist(err))
}

func TestLocalFSMarkFailedNoopOnEmptyPath(t *testing.T) {
	f, _, _ := newLocalFSHarness(t)
	require.NoError(t, f.MarkFailed(""))
}
