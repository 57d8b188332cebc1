// Copyright 2025 Kadir Pekel
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

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 100 * time.Millisecond

// FileProvider reads config from a local file and watches its directory,
// so editors that replace the file on save are still picked up.
type FileProvider struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

type FileOption func(*FileProvider)

// WithDebounce coalesces bursts of writes into one change signal.
func WithDebounce(d time.Duration) FileOption {
	return func(p *FileProvider) {
		if d > 0 {
			p.debounce = d
		}
	}
}

func WithLogger(logger *slog.Logger) FileOption {
	return func(p *FileProvider) {
		p.logger = logger
	}
}

func NewFileProvider(path string, opts ...FileOption) (*FileProvider, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	p := &FileProvider{
		path:     abs,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *FileProvider) Type() Type { return TypeFile }

// Path returns the absolute config path.
func (p *FileProvider) Path() string { return p.path }

func (p *FileProvider) Load(context.Context) ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", p.path, err)
	}
	return data, nil
}

func (p *FileProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("provider is closed")
	}
	if p.watcher != nil {
		return nil, fmt.Errorf("already watching %s", p.path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	p.watcher = watcher

	changes := make(chan struct{}, 1)
	go p.loop(ctx, watcher, changes)

	p.logger.Info("Watching config file", "path", p.path)
	return changes, nil
}

func (p *FileProvider) loop(ctx context.Context, watcher *fsnotify.Watcher, changes chan<- struct{}) {
	defer close(changes)
	defer watcher.Close()

	name := filepath.Base(p.path)
	timer := time.NewTimer(p.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create), ev.Has(fsnotify.Rename):
				timer.Reset(p.debounce)
			case ev.Has(fsnotify.Remove):
				p.logger.Warn("Config file was removed", "path", p.path)
			}

		case <-timer.C:
			if _, err := os.Stat(p.path); err != nil {
				continue
			}
			select {
			case changes <- struct{}{}:
				p.logger.Debug("Config file changed", "path", p.path)
			default:
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("File watcher error", "error", err)
		}
	}
}

func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.watcher == nil {
		return nil
	}
	err := p.watcher.Close()
	p.watcher = nil
	return err
}

var _ Provider = (*FileProvider)(nil)
