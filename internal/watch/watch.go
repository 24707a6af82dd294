// Package watch re-runs the pipeline when files under the source tree change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cognicore/zhcorpus/pkg/zhcorpus/internalerr"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/scan"
)

// DefaultDebounce is how long the tree must stay quiet before a re-run.
const DefaultDebounce = 500 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	Root     string
	Filter   *scan.Filter
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher watches every directory of a tree that the filter lets the scan
// enter.
type Watcher struct {
	root     string
	filter   *scan.Filter
	debounce time.Duration
	logger   *slog.Logger
	fs       *fsnotify.Watcher
	watched  map[string]struct{}
}

// New creates a Watcher and registers the directories below opts.Root.
func New(opts Options) (*Watcher, error) {
	if opts.Filter == nil {
		return nil, fmt.Errorf("%w: watch filter is required", internalerr.ErrInvalidInput)
	}
	info, err := os.Stat(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", internalerr.ErrRootPath, opts.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", internalerr.ErrRootPath, opts.Root)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		root:     opts.Root,
		filter:   opts.Filter,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		fs:       fw,
		watched:  make(map[string]struct{}),
	}
	if err := w.addTree(opts.Root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// Watched returns the number of watched directories.
func (w *Watcher) Watched() int { return len(w.watched) }

// addTree watches dir and every directory below it that the scan would
// enter. Unreadable directories are skipped.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Debug("watch: skipping unreadable entry", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && !w.filter.Descend(path) {
			return filepath.SkipDir
		}
		if _, ok := w.watched[path]; ok {
			return nil
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		w.watched[path] = struct{}{}
		return nil
	})
}

// relevant reports whether ev can change the pipeline's result, and starts
// watching directories that appear.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		if _, ok := w.watched[ev.Name]; ok {
			delete(w.watched, ev.Name)
			return true
		}
		return w.filter.ShouldCollect(ev.Name)
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.filter.Descend(ev.Name) {
				return false
			}
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("watch: cannot watch new directory", "path", ev.Name, "error", err)
			}
			return true
		}
	}

	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	return w.filter.ShouldCollect(ev.Name)
}

// Watch calls run once, then again each time the tree has been quiet for
// the debounce interval after a relevant change. A failed run is logged and
// watching continues. Watch returns nil when ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context, run func(context.Context) error) error {
	w.runOnce(ctx, run)

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		changes int
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			changes++
			w.logger.Debug("watch: change", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch: watcher error", "error", err)

		case <-fire:
			fire = nil
			w.logger.Info("watch: tree changed", "changes", changes)
			changes = 0
			w.runOnce(ctx, run)
		}
	}
}

func (w *Watcher) runOnce(ctx context.Context, run func(context.Context) error) {
	if err := run(ctx); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		w.logger.Error("watch: run failed", "error", err)
	}
}
