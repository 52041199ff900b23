package supervisor

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadDebounce is how long file events settle before the checksum is
// compared.
const ReloadDebounce = 100 * time.Millisecond

// HashFile computes the SHA256 of the file at path.
func HashFile(path string) ([sha256.Size]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [sha256.Size]byte{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return [sha256.Size]byte{}, fmt.Errorf("hash %s: %w", path, err)
	}

	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// watchFile sends name on changed each time the content of path changes.
// The parent directory is watched so atomic replaces are seen. Events whose
// checksum matches the last one are ignored, which filters editor touches.
func watchFile(ctx context.Context, name, path string, debounce time.Duration, changed chan<- string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	last, err := HashFile(path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dir, base := filepath.Dir(path), filepath.Base(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer w.Close()
		var settle <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				settle = time.After(debounce)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "reload watch error", "watcher", name, "error", err)
			case <-settle:
				settle = nil
				sum, err := HashFile(path)
				if err != nil {
					// Mid-replace; the next event retries.
					continue
				}
				if sum == last {
					continue
				}
				last = sum
				slog.InfoContext(ctx, "watcher source changed", "watcher", name, "path", path)
				select {
				case changed <- name:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}
