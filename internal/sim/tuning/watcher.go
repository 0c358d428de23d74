package tuning

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a tuning file when it changes on disk and hands every valid
// result to OnChange. Invalid edits are logged and the previous tuning stays
// in effect.
type Watcher struct {
	Path     string
	Debounce time.Duration
	OnChange func(Tuning)
	// OnReject, if set, sees every reload that failed to parse or validate.
	OnReject func(error)
	Logger   *log.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// Watch blocks until ctx is cancelled. The parent directory is watched so
// editors that replace the file with a rename are still seen.
func (w *Watcher) Watch(ctx context.Context) error {
	if w.Path == "" {
		return fmt.Errorf("tuning watcher: empty path")
	}
	if w.Logger == nil {
		w.Logger = log.New(os.Stdout, "[tuning] ", log.LstdFlags|log.Lmicroseconds)
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tuning watcher: %w", err)
	}
	defer fw.Close()

	target, err := filepath.Abs(w.Path)
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("tuning watcher: watch %s: %w", filepath.Dir(target), err)
	}
	w.Logger.Printf("watching %s (debounce=%s)", target, debounce)

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("tuning watcher: events channel closed")
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.schedule(debounce, target)
		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("tuning watcher: errors channel closed")
			}
			w.Logger.Printf("watch error: %v", err)
		}
	}
}

func (w *Watcher) schedule(d time.Duration, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(d, func() { w.reload(path) })
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watcher) reload(path string) {
	t, err := Load(path)
	if err != nil {
		w.Logger.Printf("reload rejected, keeping previous tuning: %v", err)
		if w.OnReject != nil {
			w.OnReject(err)
		}
		return
	}
	w.Logger.Printf("reloaded %s", path)
	if w.OnChange != nil {
		w.OnChange(t)
	}
}
