package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/tcprest/internal/logger"
)

// Watch follows the config file and calls onChange with every successfully
// reloaded configuration. Changes that fail to load are logged and skipped;
// the running config stays as it was.
//
// Only a subset of settings can take effect live (the log level and format
// among them); the caller decides what to apply. The returned stop function
// ends the watch.
func Watch(configPath string, onChange func(*Config)) (stop func(), err error) {
	if configPath == "" {
		configPath = GetDefaultConfigPath()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files on save and
	// the inode-level watch would die with the old file.
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	target := filepath.Clean(configPath)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				cfg, err := Load(configPath)
				if err != nil {
					logger.Warn("config reload failed, keeping previous config",
						"path", configPath, logger.Err(err))
					continue
				}
				logger.Info("config reloaded", "path", configPath)
				onChange(cfg)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", logger.Err(err))

			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
