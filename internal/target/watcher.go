package target

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig watches the configuration file and hot-reloads the target
// list when it changes. Events are debounced because editors typically
// emit several write/rename events per save. After a successful reload the
// registry's engaged state is re-derived and cb (if non-nil) is invoked.
func WatchConfig(ctx context.Context, path string, load func() ([]Target, error), reg *Registry, logger *slog.Logger, cb func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the parent directory: atomic saves replace the file, which
	// drops a watch placed on the file itself.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}
	base := filepath.Base(path)

	logger.Info("config watcher: started", slog.String("path", path))

	var reloadTimer *time.Timer
	var reloadCh <-chan time.Time

	scheduleReload := func() {
		if reloadTimer == nil {
			reloadTimer = time.NewTimer(200 * time.Millisecond)
			reloadCh = reloadTimer.C
		} else {
			reloadTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			logger.Info("config watcher: stopped")
			return nil

		case <-reloadCh:
			targets, loadErr := load()
			if loadErr != nil {
				logger.Warn("config watcher: reload failed", slog.String("error", loadErr.Error()))
				continue
			}
			reg.SetTargets(targets)
			if derr := reg.Rederive(ctx); derr != nil {
				logger.Warn("config watcher: rederive failed", slog.String("error", derr.Error()))
			}
			logger.Info("config watcher: targets reloaded", slog.Int("count", len(targets)))
			if cb != nil {
				cb()
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				scheduleReload()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// PumpEvents forwards external surface events into full engaged-state
// re-derivations until ctx is cancelled. cb (if non-nil) receives each
// event together with the freshly derived aggregate state.
func PumpEvents(ctx context.Context, host Host, reg *Registry, logger *slog.Logger, cb func(Event, State)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-host.Events():
			if !ok {
				return
			}
			if err := reg.Rederive(ctx); err != nil {
				logger.Warn("surface events: rederive failed", slog.String("error", err.Error()))
			}
			if cb != nil {
				cb(ev, reg.Aggregate())
			}
		}
	}
}
