// Copyright 2026 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the write bursts editors and atomic-rename
// saves produce into one reload.
const debounceWindow = 250 * time.Millisecond

// Reloadable is the subset of the configuration that may change while
// the daemon runs. Everything else requires a restart.
type Reloadable struct {
	Score ScoreConfig
	Stop  StopConfig
}

// Watch reloads the config file on change and delivers the tunable
// subset to onChange. Reloads that fail to parse or validate are logged
// and dropped; the previous values stay in effect. Watch blocks until
// the context is canceled.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(Reloadable)) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: atomic-rename saves replace
	// the inode and a file watch would go stale after the first write.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerCh = timer.C
			} else {
				timer.Reset(debounceWindow)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)

		case <-timerCh:
			timer = nil
			timerCh = nil

			cfg, err := Load(path)
			if err != nil {
				logger.Warn("ignoring invalid config reload", "path", path, "error", err)
				continue
			}
			logger.Info("config reloaded", "path", path)
			onChange(Reloadable{Score: cfg.Score, Stop: cfg.Stop})
		}
	}
}
