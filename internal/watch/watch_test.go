package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cellflow.db")
	require.NoError(t, os.WriteFile(path, []byte("v0"), 0600))

	var calls atomic.Int32
	w, err := NewFileWatcher(path, 50*time.Millisecond, func(context.Context) {
		calls.Add(1)
	})
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	require.NoError(t, w.Start(context.Background()))

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte(i)}, 0600))
		require.NoError(t, os.WriteFile(path+"-wal", []byte{byte(i)}, 0600))
	}

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFileWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cellflow.db")

	var calls atomic.Int32
	w, err := NewFileWatcher(path, 20*time.Millisecond, func(context.Context) {
		calls.Add(1)
	})
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0600))
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestFileWatcher_Matches(t *testing.T) {
	w, err := NewFileWatcher("/tmp/data/cellflow.db", 0, func(context.Context) {})
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	assert.True(t, w.Matches("/tmp/data/cellflow.db"))
	assert.True(t, w.Matches("/tmp/data/cellflow.db-wal"))
	assert.False(t, w.Matches("/tmp/data/cellflow.dbx"))
	assert.False(t, w.Matches("/tmp/data/other.db"))
}

func TestNewFileWatcher_NilHandler(t *testing.T) {
	_, err := NewFileWatcher("x.db", 0, nil)
	assert.True(t, common.IsConfigurationError(err))
}
