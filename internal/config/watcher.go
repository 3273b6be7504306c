package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Change is what a [Watcher] reports after a reload.
type Change struct {
	Old, New *Config

	// Diff is Diff(Old, New), with HotwordsChanged also set when only the
	// content of the hotwords file changed.
	Diff ConfigDiff
}

// fingerprint identifies one version of a watched file. A missing file has
// the zero fingerprint with missing set.
type fingerprint struct {
	mtime   time.Time
	sum     [sha256.Size]byte
	missing bool
}

// Watcher polls the config file and the hotwords file it names. When either
// changes it reloads the config and calls onChange with the difference. An
// invalid config is logged and skipped; the last valid one stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(Change)

	mu       sync.Mutex
	current  *Config
	config   fingerprint
	hotwords fingerprint

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onChange may be nil.
func NewWatcher(path string, onChange func(Change), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	data, fp, err := readFingerprint(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.config = fp
	w.hotwords = hotwordsFingerprint(cfg)

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check runs one poll. The callback runs without the lock held so it may
// call Current.
func (w *Watcher) check() {
	w.mu.Lock()
	old := w.current
	lastConfig, lastHotwords := w.config, w.hotwords
	w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	next := old
	if !info.ModTime().Equal(lastConfig.mtime) {
		data, fp, err := readFingerprint(w.path)
		if err != nil {
			slog.Warn("config watcher: cannot read file", "path", w.path, "err", err)
			return
		}
		if fp.sum != lastConfig.sum {
			cfg, err := LoadFromReader(bytes.NewReader(data))
			if err != nil {
				// Remember the bad version so it is reported once.
				w.mu.Lock()
				w.config = fp
				w.mu.Unlock()
				slog.Warn("config watcher: invalid config, keeping the previous one", "path", w.path, "err", err)
				return
			}
			next = cfg
		}
		lastConfig = fp
	}

	hw := hotwordsFingerprint(next)
	d := Diff(old, next)
	if next.Hotwords.File != "" && next.Hotwords.File == old.Hotwords.File && hw != lastHotwords && !d.HotwordsChanged {
		d.HotwordsChanged = true
		d.NewHotwords = next.Hotwords
	}

	w.mu.Lock()
	w.current = next
	w.config = lastConfig
	w.hotwords = hw
	w.mu.Unlock()

	if d.Empty() && len(d.RestartRequired) == 0 {
		return
	}
	slog.Info("config watcher: change detected", "path", w.path, "hotwords", d.HotwordsChanged, "restart_required", d.RestartRequired)
	if w.onChange != nil {
		w.onChange(Change{Old: old, New: next, Diff: d})
	}
}

// hotwordsFingerprint stats and hashes the hotwords file of cfg. A missing
// file is a valid state: the reload reports it.
func hotwordsFingerprint(cfg *Config) fingerprint {
	if cfg.Hotwords.File == "" {
		return fingerprint{}
	}
	_, fp, err := readFingerprint(cfg.Hotwords.File)
	if errors.Is(err, fs.ErrNotExist) {
		return fingerprint{missing: true}
	}
	if err != nil {
		slog.Warn("config watcher: cannot read hotwords file", "path", cfg.Hotwords.File, "err", err)
		return fingerprint{missing: true}
	}
	// The content decides; mtime alone would reload on every touch.
	fp.mtime = time.Time{}
	return fp
}

func readFingerprint(path string) ([]byte, fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	return data, fingerprint{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
