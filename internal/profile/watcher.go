// Copyright 2025 Tom Barlow
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

package profile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a profile document on disk and emits a reload signal
// when it changes. Editor save patterns (write-then-rename) produce bursts
// of events, so changes are debounced before signaling.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	logger    *slog.Logger

	// debounceDelay is the delay before signaling after file changes
	debounceDelay time.Duration

	// changes receives one signal per debounced change burst
	changes chan struct{}

	pending *time.Timer
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherConfig configures the profile watcher.
type WatcherConfig struct {
	// Path is the profile document to watch.
	Path string

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// DebounceDelay is the delay before signaling after file changes
	// (defaults to 200ms)
	DebounceDelay time.Duration
}

// NewWatcher creates a watcher for a profile document.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	debounceDelay := cfg.DebounceDelay
	if debounceDelay == 0 {
		debounceDelay = 200 * time.Millisecond
	}

	// Watch the containing directory: atomic saves replace the file, and
	// a watch on the old inode would go stale.
	if err := fsWatcher.Add(filepath.Dir(cfg.Path)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", cfg.Path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		fsWatcher:     fsWatcher,
		path:          cfg.Path,
		logger:        logger,
		debounceDelay: debounceDelay,
		changes:       make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// Changes returns the channel that receives reload signals.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fsWatcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()

	return err
}

// processEvents consumes filesystem events until the watcher closes.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleSignal()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("profile watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

// scheduleSignal debounces change events into a single reload signal.
func (w *Watcher) scheduleSignal() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Reset(w.debounceDelay)
		return
	}

	w.pending = time.AfterFunc(w.debounceDelay, func() {
		w.mu.Lock()
		w.pending = nil
		w.mu.Unlock()

		select {
		case w.changes <- struct{}{}:
		default:
			// A reload is already queued.
		}
	})
}
