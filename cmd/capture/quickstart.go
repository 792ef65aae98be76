package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"

	"github.com/vectorly/cdpcapture/internal/cdpsession"
)

// watchSnapshots arms an fsnotify watch on dir, a quickstart CLI collaborator
// for replaying a previous run's window-property history live: whenever a
// ".json" file is written there (e.g. dropped in after being extracted from
// an eventlog with jq), its WindowPropertyEvent snapshots are diffed against
// the last file seen and the counts of added and removed paths are logged.
// It runs until ctx is canceled.
func watchSnapshots(ctx context.Context, dir string, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}
	logger.Info("capture: snapshot watcher armed", "dir", dir)

	var lastPaths []string

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || filepath.Ext(event.Name) != ".json" {
				continue
			}
			events, err := readSnapshotFile(event.Name)
			if err != nil {
				logger.Warn("capture: failed to read snapshot file", "file", event.Name, "err", err)
				continue
			}

			paths := snapshotPaths(events)
			added := lo.Filter(lo.Uniq(paths), func(p string, _ int) bool { return !lo.Contains(lastPaths, p) })
			removed := lo.Filter(lo.Uniq(lastPaths), func(p string, _ int) bool { return !lo.Contains(paths, p) })
			logger.Info("capture: snapshot diff",
				"file", filepath.Base(event.Name),
				"added", len(added),
				"removed", len(removed),
			)
			lastPaths = paths
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("capture: snapshot watcher error", "err", err)
		}
	}
}

func readSnapshotFile(path string) ([]cdpsession.WindowPropertyEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var events []cdpsession.WindowPropertyEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// snapshotPaths flattens the paths named by the last event's changes — the
// most recent window-property shape the file records.
func snapshotPaths(events []cdpsession.WindowPropertyEvent) []string {
	if len(events) == 0 {
		return nil
	}
	last := events[len(events)-1]
	return lo.Map(last.Changes, func(c cdpsession.WindowPropertyChange, _ int) string { return c.Path })
}
