package targets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/juju/clock"

	"pbembed/internal/logging"
)

const defaultDebounce = 250 * time.Millisecond

type WatchOptions struct {
	// Debounce delays a reload until the file has been quiet this long.
	Debounce time.Duration
	Clock    clock.Clock
	Logger   *logging.Logger
}

type watcher struct {
	path    string
	opts    WatchOptions
	current []Target
	updates chan []Target
}

// Watch reloads path whenever it changes and publishes the new target list.
// The parent directory is watched so editors that replace the file are
// followed. A deleted file publishes an empty list. initial is the list the
// caller already applied; unchanged reloads are not published.
func Watch(ctx context.Context, path string, initial []Target, opts WatchOptions) (<-chan []Target, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	clean := filepath.Clean(path)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(clean)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch targets directory %s: %w", filepath.Dir(clean), err)
	}

	w := &watcher{
		path:    clean,
		opts:    opts,
		current: append([]Target(nil), initial...),
		updates: make(chan []Target, 1),
	}
	go w.run(ctx, fsw)
	return w.updates, nil
}

func (w *watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.updates)
	defer fsw.Close()
	w.opts.Logger.Debug("watching targets file", logging.Field("path", w.path))

	var (
		timer clock.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.opts.Logger.Debugf("fsnotify event: op=%s path=%s", event.Op.String(), event.Name)
			if timer == nil {
				timer = w.opts.Clock.NewTimer(w.opts.Debounce)
			} else {
				timer.Reset(w.opts.Debounce)
			}
			fire = timer.Chan()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.opts.Logger.Warn("targets watcher error", logging.Field("error", err))
		case <-fire:
			fire = nil
			if next, ok := w.reload(); ok {
				select {
				case w.updates <- next:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (w *watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0
}

func (w *watcher) reload() ([]Target, bool) {
	next, err := Load(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		next, err = nil, nil
	}
	if err != nil {
		w.opts.Logger.Warn("failed to reload targets", logging.Field("path", w.path), logging.Field("error", err))
		return nil, false
	}
	if Equal(w.current, next) {
		w.opts.Logger.Debug("ignoring unchanged targets file", logging.Field("count", len(next)))
		return nil, false
	}
	w.current = next
	w.opts.Logger.Info("targets file changed", logging.Field("path", w.path), logging.Field("count", len(next)))
	return next, true
}
