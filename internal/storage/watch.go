package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange after the database in dataDir is modified, once the
// file has been quiet for the given period. Writes made through this
// process trigger it too. Watch returns when ctx is done.
func Watch(ctx context.Context, dataDir string, quiet time.Duration, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	// SQLite replaces the WAL file, so watch the directory, not the files.
	if err := w.Add(dataDir); err != nil {
		return fmt.Errorf("watching %s: %w", dataDir, err)
	}

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isStoreFile(ev.Name) || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			fire = time.After(quiet)

		case <-fire:
			fire = nil
			onChange()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching %s: %w", dataDir, err)
		}
	}
}

func isStoreFile(path string) bool {
	switch filepath.Base(path) {
	case FileName, FileName + "-wal":
		return true
	}
	return false
}
