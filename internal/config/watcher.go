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

// Change is handed to a [Reloader] callback after the config file was
// replaced by a valid, different configuration.
type Change struct {
	Old  *Config
	New  *Config
	Diff ConfigDiff
}

// Reloader keeps the most recent valid configuration loaded from a file and
// reports changes. A file that fails to parse or validate is logged and
// ignored; the previous configuration stays current.
type Reloader struct {
	path     string
	interval time.Duration
	onChange func(Change)

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	sum     [sha256.Size]byte
}

// ReloaderOption configures a [Reloader].
type ReloaderOption func(*Reloader)

// WithInterval sets how often [Reloader.Run] looks at the file. The default
// is 5 seconds.
func WithInterval(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// OnChange registers the callback invoked for every effective change.
func OnChange(fn func(Change)) ReloaderOption {
	return func(r *Reloader) { r.onChange = fn }
}

// NewReloader loads path once and returns a Reloader holding it. The initial
// load must succeed.
func NewReloader(path string, opts ...ReloaderOption) (*Reloader, error) {
	r := &Reloader{path: path, interval: 5 * time.Second}
	for _, opt := range opts {
		opt(r)
	}
	cfg, sum, mtime, err := r.read()
	if err != nil {
		return nil, fmt.Errorf("config: initial load of %s: %w", path, err)
	}
	r.current, r.sum, r.mtime = cfg, sum, mtime
	return r, nil
}

// Current returns the most recently loaded valid config.
func (r *Reloader) Current() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Run calls [Reloader.Reload] every interval until ctx is done.
func (r *Reloader) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reload()
		}
	}
}

// Reload looks at the file once. It reports whether a new configuration was
// adopted. Files whose mtime did not move are not read; files whose content
// hash is unchanged, or whose parsed config is equal to the current one, do
// not trigger the callback.
func (r *Reloader) Reload() bool {
	info, err := os.Stat(r.path)
	if err != nil {
		slog.Warn("config reload: stat failed", "path", r.path, "err", err)
		return false
	}
	r.mu.Lock()
	unchanged := info.ModTime().Equal(r.mtime)
	r.mu.Unlock()
	if unchanged {
		return false
	}

	cfg, sum, mtime, err := r.read()
	if err != nil {
		slog.Warn("config reload: keeping previous configuration", "path", r.path, "err", err)
		return false
	}

	r.mu.Lock()
	r.mtime = mtime
	if sum == r.sum {
		r.mu.Unlock()
		return false
	}
	r.sum = sum
	old := r.current
	d := Diff(old, cfg)
	if !d.Changed() {
		r.mu.Unlock()
		return false
	}
	r.current = cfg
	r.mu.Unlock()

	slog.Info("config reloaded", "path", r.path, "log_level_changed", d.LogLevelChanged, "restart_required", d.RestartRequired)
	if r.onChange != nil {
		r.onChange(Change{Old: old, New: cfg, Diff: d})
	}
	return true
}

func (r *Reloader) read() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte
	info, err := os.Stat(r.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
