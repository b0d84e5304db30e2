package config

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "lcdaily/pkg/logx"
)

const (
	reloadDelay    = 250 * time.Millisecond
	watchRetryBase = 250 * time.Millisecond
	watchRetryMax  = 5 * time.Second
)

// retryDelay doubles up to watchRetryMax and adds up to 50% jitter.
type retryDelay struct {
	next time.Duration
	rng  *rand.Rand
}

func newRetryDelay() *retryDelay {
	return &retryDelay{next: watchRetryBase, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (r *retryDelay) take() time.Duration {
	d := r.next + time.Duration(r.rng.Int63n(int64(r.next/2)+1))
	r.next = min(r.next*2, watchRetryMax)
	return d
}

func (r *retryDelay) reset() { r.next = watchRetryBase }

// Watch reloads the file on change until ctx is done. Editors often write a
// file in several steps, so events are coalesced for reloadDelay. The
// fsnotify watcher is recreated whenever it breaks.
func (m *ConfigManager) Watch(ctx context.Context) error {
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDelay, m.reloadAndLog)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	delay := newRetryDelay()
	for ctx.Err() == nil {
		err := m.watchDir(ctx, schedule, delay.reset)
		if ctx.Err() != nil {
			break
		}
		wait := delay.take()
		if !m.log.IsZero() {
			m.log.Warn("config watcher stopped; restarting",
				logx.String("path", m.path), logx.Err(err), logx.Duration("backoff", wait))
		}
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	return nil
}

func (m *ConfigManager) reloadAndLog() {
	published, err := m.reload()
	if m.log.IsZero() {
		return
	}
	switch {
	case err != nil:
		m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
	case published:
		m.log.Debug("config published", logx.String("path", m.path))
	default:
		m.log.Debug("config unchanged", logx.String("path", m.path))
	}
}

// watchDir watches the config's directory, since editors replace files by
// rename. It returns when the watcher breaks or ctx is done.
func (m *ConfigManager) watchDir(ctx context.Context, changed func(), healthy func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	healthy()
	if !m.log.IsZero() {
		m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("event channel closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) {
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("error channel closed")
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			switch {
			case strings.Contains(msg, "overflow"):
				// Events were lost; reload once to catch up.
				changed()
			case strings.Contains(msg, "closed"):
				return err
			default:
				if !m.log.IsZero() {
					m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
				}
			}
		}
	}
}
