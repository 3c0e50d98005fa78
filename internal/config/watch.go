package config

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "xsnotifier/pkg/logx"
)

// Watcher republishes the layered configuration when the config file changes.
type Watcher struct {
	loader Loader
	cell   *Broadcaster
	log    logx.Logger

	// Debounce absorbs the burst of events editors emit for one save.
	Debounce time.Duration

	mu sync.Mutex
	// lastHash tracks the last published content so repeated write events
	// without content changes don't publish again.
	lastHash uint64
}

func NewWatcher(loader Loader, cell *Broadcaster, log logx.Logger) *Watcher {
	cur := cell.Load()
	return &Watcher{
		loader:   loader,
		cell:     cell,
		log:      log,
		Debounce: 250 * time.Millisecond,
		lastHash: hashConfig(&cur),
	}
}

// Reload re-runs the layered load and publishes the result if it differs
// from the current snapshot. Bad edits are logged and ignored.
func (w *Watcher) Reload() bool {
	cfg, err := w.loader.Load()
	if err != nil {
		w.log.Warn("config reload rejected; keeping current config", logx.String("path", w.loader.Path), logx.Err(err))
		return false
	}
	h := hashConfig(cfg)

	w.mu.Lock()
	defer w.mu.Unlock()
	if h != 0 && h == w.lastHash {
		w.log.Debug("config unchanged; skipping publish", logx.String("path", w.loader.Path))
		return false
	}
	w.lastHash = h
	w.cell.Publish(*cfg)
	return true
}

// Watch blocks until ctx ends. When the underlying fsnotify watcher breaks
// it is recreated with a small jittered backoff.
func (w *Watcher) Watch(ctx context.Context) error {
	if strings.TrimSpace(w.loader.Path) == "" {
		<-ctx.Done()
		return nil
	}
	dir := filepath.Dir(w.loader.Path)
	file := filepath.Base(w.loader.Path)

	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
	)
	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sleep := func() bool {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, restartBackoffMax)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
			return true
		}
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.Debounce, func() {
			if ctx.Err() != nil {
				return
			}
			w.Reload()
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		fw, err := fsnotify.NewWatcher()
		if err != nil {
			w.log.Warn("config watch init failed", logx.Err(err), logx.String("dir", dir))
			if !sleep() {
				return nil
			}
			continue
		}
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			w.log.Warn("config watch add failed", logx.Err(err), logx.String("dir", dir))
			if !sleep() {
				return nil
			}
			continue
		}

		backoff = restartBackoffBase
		w.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = fw.Close()
				return nil
			case ev, ok := <-fw.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					debounce()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means we may have missed events; reload once and keep going.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					w.log.Warn("config watch overflow; forcing reload", logx.Err(err))
					debounce()
					continue
				}
				w.log.Warn("config watch error", logx.Err(err), logx.String("dir", dir))
			}
		}

		_ = fw.Close()
		w.log.Warn("config watcher stopped; restarting", logx.String("dir", dir))
		if !sleep() {
			return nil
		}
	}
}
