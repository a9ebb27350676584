// Copyright 2025 Poiesic Systems
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

package scan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is used when Watch is given a zero debounce.
const DefaultDebounce = 500 * time.Millisecond

// Watch runs an initial scan, then rescans whenever a file with an accepted
// extension changes under any root. Bursts of events within debounce
// collapse into one scan. New directories are added to the watch list.
// It returns when ctx is cancelled.
func (d *Detector) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, root := range d.config.Roots {
		if err := addDirsRecursive(w, root); err != nil {
			return err
		}
	}

	accept := make(map[string]bool, len(d.config.Extensions))
	for _, ext := range d.config.Extensions {
		accept["."+strings.TrimPrefix(strings.ToLower(ext), ".")] = true
	}

	d.logger.Info("watcher started", "roots", d.config.Roots, "debounce", debounce)
	if _, err := d.Scan(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error("scan failed", "err", err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			fire = timer.C
			return
		}
		timer.Reset(debounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			d.logger.Info("watcher stopped")
			return nil

		case <-fire:
			timer, fire = nil, nil
			if _, err := d.Scan(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("scan failed", "err", err)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addDirsRecursive(w, ev.Name); err != nil {
						d.logger.Warn("failed to watch new directory", "path", ev.Name, "err", err)
					}
					schedule()
					continue
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !accept[strings.ToLower(filepath.Ext(ev.Name))] {
				continue
			}
			d.logger.Debug("source changed", "path", ev.Name, "op", ev.Op.String())
			schedule()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			d.logger.Error("watcher error", "err", err)
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
