package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands each
// successful reload to a callback. A reload that fails to parse or validate
// is logged and the previous configuration stays in effect.
type Watcher struct {
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Watch starts watching path for changes. It watches the containing
// directory rather than the file: editors replace files by rename, which a
// watch on the file itself would lose. The load options are re-applied on
// every reload.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config), opts ...Option) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(absPath)); err != nil {
		fw.Close()
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{watcher: fw, cancel: cancel}
	w.wg.Add(1)
	go w.loop(watchCtx, absPath, logger, onChange, opts)
	return w, nil
}

// Close stops the watcher. A reload already scheduled may still fire its
// callback before Close returns.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config), opts []Option) {
	defer w.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			cfg, err := Load(path, opts...)
			if err != nil {
				logger.Warn("config reload failed", "path", path, "error", err)
				return
			}
			logger.Info("config reloaded", "path", path)
			onChange(cfg)
		})
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watch error", "error", err)
		}
	}
}
