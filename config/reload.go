package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadSettle is how long the file must stay quiet before a re-read.
// Editors that save via rename produce a burst of events per save.
const reloadSettle = 100 * time.Millisecond

// Reloader keeps a Tool configuration in sync with its file. When the file
// changes it is re-parsed and validated; a bad revision is rejected and the
// previous configuration stays in effect. When the new revision actually
// differs, onChange receives the old and new configurations so the caller
// can push the settings that support live changes (log level, nodelay)
// into a running session.
type Reloader struct {
	path     string
	onChange func(old, cur *Tool)
	logger   *slog.Logger
	watcher  *fsnotify.Watcher

	mu  sync.Mutex
	cur *Tool

	stopOnce sync.Once
	stop     chan struct{}
}

// NewReloader starts watching the file behind cur, which must be the
// configuration the caller is currently running with. The watch covers the
// file's directory so rename-style saves and re-creations are seen.
func NewReloader(path string, cur *Tool, onChange func(old, cur *Tool), logger *slog.Logger) (*Reloader, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Reloader{
		path:     abs,
		onChange: onChange,
		logger:   logger,
		watcher:  fsw,
		cur:      cur,
		stop:     make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// Current returns the configuration most recently accepted.
func (r *Reloader) Current() *Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur
}

func (r *Reloader) run() {
	// pending is nil (blocking forever) until a relevant event arrives,
	// then becomes the settle timer for the pending re-read.
	var pending <-chan time.Time
	for {
		select {
		case <-r.stop:
			return

		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != r.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.After(reloadSettle)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("config watch error", "path", r.path, "err", err)

		case <-pending:
			pending = nil
			r.reload()
		}
	}
}

func (r *Reloader) reload() {
	cfg, err := Load(r.path, Default())
	if err != nil {
		r.logger.Error("config reload rejected; keeping previous settings",
			"path", r.path, "err", err)
		return
	}

	r.mu.Lock()
	old := r.cur
	r.cur = cfg
	r.mu.Unlock()

	if *cfg == *old {
		return
	}
	r.logger.Info("config reloaded", "path", r.path)
	if r.onChange != nil {
		r.onChange(old, cfg)
	}
}

// Close stops watching. The last accepted configuration stays available
// through Current.
func (r *Reloader) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	return r.watcher.Close()
}
