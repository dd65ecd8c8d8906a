package artifact

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestWatcher starts a watcher over a fresh directory with a short
// debounce, counting callback invocations.
func newTestWatcher(t *testing.T, debounce time.Duration) (string, *atomic.Int64) {
	t.Helper()

	dir := t.TempDir()

	var reloads atomic.Int64

	w, err := NewWatcher(dir, debounce, func() { reloads.Add(1) }, testLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = w.Close() })

	return dir, &reloads
}

func touchArtifact(t *testing.T, dir, name, content string) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestWatcherCoalescesBurstIntoOneReload(t *testing.T) {
	dir, reloads := newTestWatcher(t, 100*time.Millisecond)

	// An artifact rebuild rewrites the file several times in quick
	// succession; the debounce window folds the burst into one reload.
	for i := range 10 {
		touchArtifact(t, dir, ManifestFileName, time.Now().Add(time.Duration(i)).String())
	}

	time.Sleep(400 * time.Millisecond)

	assert.Equal(t, int64(1), reloads.Load(),
		"10 rapid writes should produce exactly 1 reload")
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir, reloads := newTestWatcher(t, 50*time.Millisecond)

	touchArtifact(t, dir, "notes.txt", "not an artifact")
	touchArtifact(t, dir, "run_results.json", "not watched either")

	time.Sleep(250 * time.Millisecond)

	assert.Equal(t, int64(0), reloads.Load())
}

func TestWatcherSeparatedWritesFireSeparately(t *testing.T) {
	dir, reloads := newTestWatcher(t, 50*time.Millisecond)

	touchArtifact(t, dir, ManifestFileName, "first")
	time.Sleep(300 * time.Millisecond)

	touchArtifact(t, dir, CatalogFileName, "second")
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, int64(2), reloads.Load())
}

func TestWatcherCoversBackupFiles(t *testing.T) {
	dir, reloads := newTestWatcher(t, 50*time.Millisecond)

	touchArtifact(t, dir, ManifestBackupName, "rotated")

	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, int64(1), reloads.Load(),
		"backup rotation changes the comparison baseline and must invalidate")
}

func TestWatcherCloseCancelsPendingReload(t *testing.T) {
	dir := t.TempDir()

	var reloads atomic.Int64

	w, err := NewWatcher(dir, 300*time.Millisecond, func() { reloads.Add(1) }, testLogger())
	require.NoError(t, err)

	touchArtifact(t, dir, ManifestFileName, "about to be cancelled")

	require.NoError(t, w.Close())

	time.Sleep(500 * time.Millisecond)

	assert.Equal(t, int64(0), reloads.Load(),
		"Close before the debounce window fires should cancel the reload")
}

func TestWatcherDoubleCloseIsSafe(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWatcher(dir, 0, func() {}, testLogger())
	require.NoError(t, err)

	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func TestNewWatcherFailsOnMissingDirectory(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "absent"), 0, func() {}, testLogger())

	assert.Error(t, err)
}
