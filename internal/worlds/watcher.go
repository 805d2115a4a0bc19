package worlds

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// watcherDebounceInterval is how often pending filesystem events are
	// checked, batching the burst of writes a game save produces into a
	// single notification per world.
	watcherDebounceInterval = 500 * time.Millisecond

	// watcherSettleDelay is how long a world must stay quiet before its
	// change is reported.
	watcherSettleDelay = 300 * time.Millisecond
)

// Watcher monitors the worlds root for changes and reports which world
// ids were touched, so the caller can rebuild the catalog.
type Watcher struct {
	store    *Store
	logger   *slog.Logger
	onChange func(ids []string)
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher over the store's root directory.
// onChange receives the distinct world ids affected since the last
// notification.
func NewWatcher(store *Store, logger *slog.Logger, onChange func(ids []string)) *Watcher {
	return &Watcher{
		store:    store,
		logger:   logger,
		onChange: onChange,
	}
}

// Watch blocks until the context is cancelled, watching the worlds
// root recursively and emitting debounced change notifications.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	w.watcher = watcher
	defer watcher.Close()

	if err := w.addRecursive(w.store.Dir()); err != nil {
		return fmt.Errorf("watching worlds dir: %w", err)
	}

	w.logger.Info("world watcher started", slog.String("dir", w.store.Dir()))

	// Debounce: batch rapid writes into one notification per world.
	pending := make(map[string]time.Time)

	ticker := time.NewTicker(watcherDebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			id, ok := w.worldIDFor(event.Name)
			if !ok {
				continue
			}

			pending[id] = time.Now()

			// Watch newly created directories recursively. Lstat avoids
			// following symlinks that could point outside the root.
			if event.Has(fsnotify.Create) {
				info, err := os.Lstat(event.Name)
				if err == nil && info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
					_ = w.addRecursive(event.Name)
				}
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				_ = watcher.Remove(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := time.Now()

			var settled []string

			for id, t := range pending {
				if now.Sub(t) < watcherSettleDelay {
					continue
				}

				delete(pending, id)
				settled = append(settled, id)
			}

			if len(settled) > 0 {
				w.logger.Debug("worlds changed", slog.Int("count", len(settled)))
				w.onChange(settled)
			}
		}
	}
}

// worldIDFor maps an event path to the world id it falls under: the
// first path element below the worlds root. Events on ignorable
// entries (hidden files, staging dirs, editor temp files) report no id.
func (w *Watcher) worldIDFor(absPath string) (string, bool) {
	rel, err := filepath.Rel(w.store.Dir(), absPath)
	if err != nil || rel == "." {
		return "", false
	}

	rel = filepath.ToSlash(rel)

	id := rel
	if idx := strings.Index(rel, "/"); idx >= 0 {
		id = rel[:idx]
	}

	if strings.HasPrefix(id, ".") {
		return "", false
	}

	base := filepath.Base(absPath)
	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") {
		return "", false
	}

	return id, true
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if strings.HasPrefix(filepath.Base(path), ".") && path != w.store.Dir() {
			return filepath.SkipDir
		}

		// Skip symlinked directories to prevent watching outside the
		// worlds root.
		if d.Type()&os.ModeSymlink != 0 {
			return filepath.SkipDir
		}

		return w.watcher.Add(path)
	})
}
