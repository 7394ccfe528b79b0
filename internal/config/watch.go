package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 100 * time.Millisecond

// WatchFile calls onChange after path is written or recreated, debounced. It watches
// the parent directory so editors that replace the file are seen. The watch stops
// when ctx is done.
func WatchFile(ctx context.Context, path string, logger *slog.Logger, onChange func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, onChange)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("file watcher error", "path", abs, "error", err)
			}
		}
	}()
	return nil
}

// Watch reloads the configuration whenever its file changes and passes the result to
// onChange. Reload failures are logged and the previous configuration stays in use.
func Watch(ctx context.Context, cfg Config, logger *slog.Logger, onChange func(Config)) error {
	if cfg.File == "" {
		return nil
	}
	return WatchFile(ctx, cfg.File, logger, func() {
		next, err := LoadFile(cfg.File)
		if err != nil {
			logger.Warn("config reload failed", "path", cfg.File, "error", err)
			return
		}
		logger.Info("config reloaded", "path", cfg.File)
		onChange(next)
	})
}
