package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultWatchInterval is the polling period used when none is configured.
const DefaultWatchInterval = 5 * time.Second

// fileState identifies one revision of the watched file.
type fileState struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher polls a config file and reports every valid revision to a
// callback. A revision is new when its modification time moved and its
// content hash differs from the last accepted one. Content files referenced
// by resources are re-read on reload but are not watched.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	mu       sync.Mutex
	current  *Config
	accepted fileState // last revision that loaded cleanly
	seen     time.Time // last mtime examined, valid or not
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling period. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger. Defaults to [slog.Default].
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher loads path once and returns a watcher holding the result.
// Polling begins with [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = slog.Default()
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.accepted, w.seen = cfg, st, st.mtime
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done and then returns nil, which lets it share an
// errgroup with the HTTP server.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if old, cfg, ok := w.poll(); ok && w.onChange != nil {
				w.onChange(old, cfg)
			}
		}
	}
}

// poll checks the file once. ok reports a new valid revision; the caller
// runs the callback without holding the lock.
func (w *Watcher) poll() (old, cfg *Config, ok bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return nil, nil, false
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.seen)
	w.seen = info.ModTime()
	w.mu.Unlock()
	if unchanged {
		return nil, nil, false
	}

	next, st, err := w.read()
	if err != nil {
		w.log.Warn("config watcher: reload rejected, keeping previous config", "path", w.path, "err", err)
		return nil, nil, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if st.sum == w.accepted.sum {
		w.accepted.mtime = st.mtime
		return nil, nil, false
	}
	old, w.current, w.accepted = w.current, next, st
	w.log.Info("config watcher: configuration reloaded", "path", w.path)
	return old, next, true
}

func (w *Watcher) read() (*Config, fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := load(data, filepath.Dir(w.path))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
