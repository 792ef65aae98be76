package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vectorly/cdpcapture/internal/cdpsession"
)

func TestSnapshotPathsUsesLastEventOnly(t *testing.T) {
	t.Parallel()
	events := []cdpsession.WindowPropertyEvent{
		{Changes: []cdpsession.WindowPropertyChange{{Path: "stale.a"}}},
		{Changes: []cdpsession.WindowPropertyChange{{Path: "app.b"}, {Path: "app.c"}}},
	}
	assert.Equal(t, []string{"app.b", "app.c"}, snapshotPaths(events))
}

func TestSnapshotPathsEmptyWhenNoEvents(t *testing.T) {
	t.Parallel()
	assert.Nil(t, snapshotPaths(nil))
}

func TestReadSnapshotFileRoundTrips(t *testing.T) {
	t.Parallel()
	events := []cdpsession.WindowPropertyEvent{
		{URL: "https://example.com", Changes: []cdpsession.WindowPropertyChange{{Path: "app.user.id", Kind: "added"}}},
	}
	data, err := json.Marshal(events)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	got, err := readSnapshotFile(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "app.user.id", got[0].Changes[0].Path)
}

func TestReadSnapshotFileErrorsOnMissingFile(t *testing.T) {
	t.Parallel()
	_, err := readSnapshotFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestWatchSnapshotsLogsDiffOnFileWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = watchSnapshots(ctx, dir, silentLogger())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond) // let the watcher arm before writing

	events := []cdpsession.WindowPropertyEvent{
		{Changes: []cdpsession.WindowPropertyChange{{Path: "app.ready"}}},
	}
	data, err := json.Marshal(events)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snap.json"), data, 0o644))

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchSnapshots did not exit after context cancellation")
	}
}
