package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 5 * time.Second

// Reload is handed to the [Watcher] callback after a valid edit that changed
// at least one setting.
type Reload struct {
	Old, New *Config
	Diff     ConfigDiff
}

// fingerprint identifies one version of the file on disk.
type fingerprint struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// Watcher polls the config file and reports semantic changes. An edit that
// fails to parse or validate is reported to the invalid hook and otherwise
// ignored: the last good config stays current. Edits that only touch
// comments or formatting produce no callback.
type Watcher struct {
	path      string
	interval  time.Duration
	onReload  func(Reload)
	onInvalid func(error)

	mu      sync.Mutex
	current *Config
	seen    fingerprint

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Defaults to [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithOnInvalid is called with the load error of every rejected edit.
func WithOnInvalid(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onInvalid = fn }
}

// NewWatcher loads path and starts polling it. onReload may be nil.
func NewWatcher(path string, onReload func(Reload), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, fp, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.seen = cfg, fp

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. A callback already running finishes first. Safe to call
// more than once.
func (w *Watcher) Stop() {
	w.once.Do(w.cancel)
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if r, ok := w.poll(); ok && w.onReload != nil {
				w.onReload(r)
			}
		}
	}
}

// poll returns the reload to report, if any.
func (w *Watcher) poll() (Reload, bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config file unavailable", "path", w.path, "err", err)
		return Reload{}, false
	}

	w.mu.Lock()
	same := info.ModTime().Equal(w.seen.mtime) && info.Size() == w.seen.size
	w.mu.Unlock()
	if same {
		return Reload{}, false
	}

	cfg, fp, err := w.load()
	if err != nil {
		w.mu.Lock()
		w.seen.mtime, w.seen.size = info.ModTime(), info.Size()
		w.mu.Unlock()
		slog.Warn("config edit rejected, keeping previous config", "path", w.path, "err", err)
		if w.onInvalid != nil {
			w.onInvalid(err)
		}
		return Reload{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if fp.sum == w.seen.sum {
		w.seen = fp
		return Reload{}, false
	}
	w.seen = fp
	r := Reload{Old: w.current, New: cfg, Diff: Diff(w.current, cfg)}
	w.current = cfg
	if !r.Diff.Changed() {
		slog.Debug("config file rewritten without setting changes", "path", w.path)
		return Reload{}, false
	}
	slog.Info("config reloaded", "path", w.path,
		"pipeline", r.Diff.PipelineChanged,
		"reveal", r.Diff.RevealChanged,
		"restart_required", r.Diff.RestartRequired,
	)
	return r, true
}

func (w *Watcher) load() (*Config, fingerprint, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fingerprint{}, err
	}
	return cfg, fingerprint{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
