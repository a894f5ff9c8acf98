package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/toolgate/internal/config"
	"github.com/fyrsmithlabs/toolgate/internal/ignore"
)

// ErrWatcherFailed indicates the filesystem watcher could not start.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Watch loads dir, then reloads it each time manifest files under it settle
// after a change. Vectors of manifests that disappear between loads are
// deleted. Watch blocks until ctx is done and returns nil on cancellation.
func (l *Loader) Watch(ctx context.Context, dir string) error {
	if dir == "" {
		dir = l.opts.Dir
	}
	dir, err := config.ExpandHome(dir)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	defer func() { _ = watcher.Close() }()

	if err := addTree(watcher, dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	known := l.reload(ctx, dir, nil)

	timer := time.NewTimer(l.opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(watcher, event.Name); err != nil {
						l.logger.Warn(ctx, "failed to watch new directory", zap.String("path", event.Name), zap.Error(err))
					}
					pending = l.arm(timer, pending)
					continue
				}
			}
			relevant := isManifestFile(event.Name) || filepath.Base(event.Name) == ignore.FileName
			if !relevant || (event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write)) {
				continue
			}
			pending = l.arm(timer, pending)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn(ctx, "manifest watcher error", zap.Error(err))

		case <-timer.C:
			pending = false
			known = l.reload(ctx, dir, known)
		}
	}
}

// arm restarts the debounce timer.
func (l *Loader) arm(timer *time.Timer, pending bool) bool {
	if pending && !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(l.opts.Debounce)
	return true
}

// reload runs Load and deletes vectors whose manifests are gone. It returns
// the keys now indexed.
func (l *Loader) reload(ctx context.Context, dir string, previous map[string]struct{}) map[string]struct{} {
	summary, err := l.Load(ctx, dir)
	if l.opts.OnReload != nil {
		defer l.opts.OnReload(summary, err)
	}
	if err != nil {
		l.logger.Warn(ctx, "manifest reload failed", zap.String("dir", dir), zap.Error(err))
		return previous
	}

	current := make(map[string]struct{}, len(summary.keys))
	for _, k := range summary.keys {
		current[k] = struct{}{}
	}
	if l.opts.DryRun {
		return current
	}

	var stale []string
	for k := range previous {
		if _, ok := current[k]; !ok {
			stale = append(stale, k)
		}
	}
	if len(stale) > 0 {
		if err := l.store.Delete(ctx, stale); err != nil {
			l.logger.Warn(ctx, "failed to delete stale vectors", zap.Strings("keys", stale), zap.Error(err))
			return previous
		}
		l.logger.Info(ctx, "deleted stale vectors", zap.Int("count", len(stale)))
	}
	return current
}

// addTree watches root and every directory below it. fsnotify is not
// recursive.
func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
