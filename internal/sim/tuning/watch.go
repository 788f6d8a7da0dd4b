package tuning

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads path whenever it changes and hands every valid result to
// onChange. Invalid files are logged and ignored. It blocks until ctx ends.
// The parent directory is watched so editors that replace the file by rename
// are picked up.
func Watch(ctx context.Context, path string, logger *log.Logger, onChange func(Tuning)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tuning watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(reloadDebounce)

		case <-timer.C:
			t, err := Load(abs)
			if err != nil {
				if logger != nil {
					logger.Printf("tuning reload ignored: %v", err)
				}
				continue
			}
			if logger != nil {
				logger.Printf("tuning reloaded path=%s", abs)
			}
			onChange(t)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if logger != nil {
				logger.Printf("tuning watcher error: %v", err)
			}
		}
	}
}
