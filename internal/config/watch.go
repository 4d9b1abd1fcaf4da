package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "cub3dnotify/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	watchRetryMin  = 250 * time.Millisecond
	watchRetryMax  = 5 * time.Second
)

var errWatcherClosed = errors.New("fsnotify watcher closed")

// Watch reloads the file whenever it changes until ctx is done. The parent
// directory is watched so atomic renames by editors are seen. A broken
// watcher is rebuilt with jittered exponential backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)

	d := &debouncer{delay: reloadDebounce, fn: func() { m.reload(ctx) }}
	defer d.stop()

	retry := watchRetryMin
	for ctx.Err() == nil {
		err := m.watchOnce(ctx, dir, name, d, func() { retry = watchRetryMin })
		if ctx.Err() != nil {
			break
		}
		wait := retry + rand.N(retry/2+1)
		retry = min(retry*2, watchRetryMax)
		m.log.Warn("config watcher failed; retrying",
			logx.String("dir", dir), logx.Duration("backoff", wait), logx.Err(err))
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	return nil
}

// watchOnce runs a single fsnotify watcher. started is called once the
// directory is being watched.
func (m *ConfigManager) watchOnce(ctx context.Context, dir, name string, d *debouncer, started func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	started()
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if strings.EqualFold(filepath.Base(ev.Name), name) && ev.Op != 0 {
				d.trigger()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return errWatcherClosed
			case errors.Is(err, fsnotify.ErrEventOverflow):
				// Events were lost; the file may have changed.
				m.log.Warn("config watch overflow; reloading", logx.Err(err))
				d.trigger()
			case err != nil:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

// debouncer runs fn once after a quiet period following the last trigger.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fn)
		return
	}
	d.timer.Reset(d.delay)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
