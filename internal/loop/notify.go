package loop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultSettle = 200 * time.Millisecond

// WatchDir returns a channel that receives once some time after files in
// dir are created, written or renamed. Bursts of events within settle are
// coalesced into one notification, and a pending notification is never
// duplicated. The watch ends when ctx is done.
func WatchDir(ctx context.Context, dir string, settle time.Duration) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	ch := make(chan struct{}, 1)
	notify := func() {
		select {
		case ch <- struct{}{}:
		default:
		}
	}

	go func() {
		defer w.Close()
		var (
			mu       sync.Mutex
			debounce *time.Timer
		)
		defer func() {
			mu.Lock()
			if debounce != nil {
				debounce.Stop()
			}
			mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				mu.Lock()
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(settle, notify)
				mu.Unlock()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("fsnotify error", "dir", dir, "error", err)
			}
		}
	}()
	return ch, nil
}
