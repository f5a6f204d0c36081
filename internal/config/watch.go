package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "famcal/internal/log"
)

// WatchDebounce coalesces editor write bursts into one reload.
const WatchDebounce = 250 * time.Millisecond

// Watch reloads the file at path whenever it changes and hands the parsed
// config to fn. Parse failures are logged and the previous config stays in
// effect. Watch blocks until ctx is done.
//
// The containing directory is watched rather than the file itself so that
// atomic rename-based saves (including Save) are observed.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	dir := filepath.Dir(path)
	file := filepath.Base(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	reload := func() {
		data, err := os.ReadFile(path)
		if err != nil {
			appLog.Warn("config reload: read failed", "path", path, "err", err.Error())
			return
		}
		cfg, err := Parse(data)
		if err != nil {
			appLog.Warn("config reload: parse failed", "path", path, "err", err.Error())
			return
		}
		cfg.ApplyEnv()
		appLog.Info("config reloaded", "path", path)
		fn(cfg)
	}
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(WatchDebounce, reload)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	appLog.Debug("config watcher started", "dir", dir, "file", file)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			appLog.Warn("config watch error", "dir", dir, "err", err.Error())
		}
	}
}
