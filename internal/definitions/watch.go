package definitions

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceInterval coalesces bursts of file events into one change.
const DebounceInterval = 100 * time.Millisecond

// LocalDir returns the directory behind a file:// base URL, and false for
// every other scheme.
func LocalDir(baseURL string) (string, bool) {
	if !strings.HasPrefix(baseURL, "file://") {
		return "", false
	}
	return filepath.FromSlash(strings.TrimPrefix(baseURL, "file://")), true
}

// Watch calls onChange with the changed file whenever a definition under
// dir is written or created, until ctx is done. Only local directories
// can be watched.
func Watch(ctx context.Context, dir string, logger *slog.Logger, onChange func(name string)) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watchDirRecursive(watcher, dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !slices.Contains(Extensions, strings.ToLower(filepath.Ext(event.Name))) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			name := event.Name
			debounceTimer = time.AfterFunc(DebounceInterval, func() {
				logger.Debug("dashboard definition changed", slog.String("file", name))
				onChange(name)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", slog.Any("error", err))
		}
	}
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
