package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events editors produce on save.
const reloadDelay = 100 * time.Millisecond

// Watch calls reload with the new configuration each time path changes,
// until ctx is done. Invalid files are logged and skipped.
func Watch(ctx context.Context, path string, reload func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to watch configuration: %w", err)
	}

	// Watch the directory: editors often replace the file on save.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return fmt.Errorf("unable to watch configuration: %w", err)
	}

	go func() {
		defer w.Close()

		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					pending = time.After(reloadDelay)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("Configuration watcher error", "error", err)
			case <-pending:
				pending = nil
				cfg, err := LoadFile(path)
				if err != nil {
					log.Warn("Ignoring invalid configuration", "path", path, "error", err)
					continue
				}
				log.Info("Configuration reloaded", "path", path, "provider", cfg.Provider)
				reload(cfg)
			}
		}
	}()
	return nil
}

// LoadFile loads the configuration from path with defaults and
// environment overrides.
func LoadFile(path string) (Config, error) {
	v := NewViper()
	if _, err := ReadInConfig(v, path, nil); err != nil {
		return Config{}, err
	}
	return Load(v)
}
