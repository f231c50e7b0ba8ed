package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/cinefront/cinefront/pkg/errors"
	"github.com/cinefront/cinefront/pkg/types"
)

// Watcher reloads a configuration file when it changes on disk
type Watcher struct {
	filename string
	watcher  *fsnotify.Watcher
	onChange func(*Configuration)
	logger   *slog.Logger
}

// NewWatcher watches filename. The parent directory is watched so that
// editors which replace the file by rename are picked up.
func NewWatcher(filename string, onChange func(*Configuration), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(filename)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigLoad, "failed to resolve config path", err).
			WithComponent("config").WithDetail("file", filename)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigLoad, "failed to create file watcher", err).
			WithComponent("config")
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, errors.Wrap(errors.ErrCodeConfigLoad, "failed to watch config directory", err).
			WithComponent("config").WithDetail("file", abs)
	}

	return &Watcher{
		filename: abs,
		watcher:  fw,
		onChange: onChange,
		logger:   logger.With("component", "config-watcher"),
	}, nil
}

// Run delivers reloaded configurations until ctx is done. A reload layers
// the file and the environment the same way Load does. Files that fail to
// load or validate are logged and skipped.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.filename {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.filename)
	if err != nil {
		w.logger.Warn("Config reload failed", "file", w.filename, "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("Reloaded config is invalid", "file", w.filename, "error", err)
		return
	}

	w.logger.Info("Config reloaded", "file", w.filename)
	w.onChange(cfg)
}

// BufferUpdate returns the buffer section as a full update
func (c *Configuration) BufferUpdate() types.ConfigUpdate {
	b := c.Buffer
	return types.ConfigUpdate{
		MaxConcurrentRequests: &b.MaxConcurrentRequests,
		PredictiveThreshold:   &b.PredictiveThreshold,
		BufferSize:            &b.BufferSize,
		EnableAcceleration:    &b.EnableAcceleration,
	}
}
