// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package profiles

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ManuGH/vencode/internal/log"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher re-applies the seed file whenever it changes.
type Watcher struct {
	path     string
	manager  *Manager
	debounce time.Duration
	onApply  func(SeedResult, error)
}

// NewWatcher watches path. onApply, when set, observes every reload.
func NewWatcher(path string, m *Manager, onApply func(SeedResult, error)) *Watcher {
	return &Watcher{path: path, manager: m, debounce: defaultDebounce, onApply: onApply}
}

// Run blocks until ctx is done. The parent directory is watched so that
// editors replacing the file via rename are seen.
func (w *Watcher) Run(ctx context.Context) error {
	logger := log.WithComponent("profiles")
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	target := filepath.Clean(w.path)
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch seed dir: %w", err)
	}
	logger.Info().Str(log.FieldEvent, "profiles.watcher_started").Str(log.FieldPath, target).Msg("watching profile seed file")

	var (
		timer  *time.Timer
		fire   <-chan time.Time
		reload = func() {
			seed, err := LoadSeed(target)
			var res SeedResult
			if err == nil {
				res, err = w.manager.ApplySeed(ctx, seed)
			}
			if err != nil {
				logger.Error().Err(err).Str(log.FieldEvent, "profiles.reload_failed").Msg("profile seed reload failed")
			}
			if w.onApply != nil {
				w.onApply(res, err)
			}
		}
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Str(log.FieldEvent, "profiles.watcher_stopped").Msg("profile seed watcher stopped")
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			logger.Debug().Str(log.FieldEvent, "profiles.file_changed").Str("op", ev.Op.String()).Msg("profile seed changed")
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Str(log.FieldEvent, "profiles.watcher_error").Msg("profile seed watcher error")
		}
	}
}
