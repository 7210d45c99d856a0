package utils

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"

	"github.com/ginjaninja78/fatturapa-extractor/internal/logging"
)

// DefaultDebounce is how long a dropped file must stay quiet before it is
// emitted. Copies into the drop folder arrive as bursts of write events.
const DefaultDebounce = 500 * time.Millisecond

// WatchConfig configures Watch.
type WatchConfig struct {
	// Root is the directory to watch, recursively.
	Root string
	// InitialScan emits the sources already present before watching.
	InitialScan bool
	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration
}

// Watch emits the path of every .xml or .zip file created or written under
// cfg.Root once it has been quiet for the debounce period. Both channels
// close when ctx ends.
func Watch(ctx context.Context, cfg WatchConfig) (<-chan string, <-chan error, error) {
	if cfg.Root == "" {
		return nil, nil, errors.New("no directory to watch")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	log := logging.Component("watch")

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, errors.Wrap(err, "create fsnotify watcher")
	}

	var initial []string
	err = filepath.WalkDir(cfg.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return w.Add(path)
		}
		if cfg.InitialScan && IsSource(path) {
			initial = append(initial, path)
		}
		return nil
	})
	if err != nil {
		_ = w.Close()
		return nil, nil, errors.Wrapf(err, "watch %s", cfg.Root)
	}

	paths := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(paths)
		defer close(errs)
		defer w.Close()

		emit := func(p string) bool {
			select {
			case paths <- p:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, p := range initial {
			if !emit(p) {
				return
			}
		}

		pending := map[string]time.Time{}
		tick := time.NewTicker(cfg.Debounce / 2)
		defer tick.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Has(fsnotify.Create) {
					if err := watchDir(w, e.Name); err != nil {
						log.Warnw("Cannot watch new directory", logging.FieldPath, e.Name, logging.FieldError, err)
					}
				}
				if IsSource(e.Name) && (e.Has(fsnotify.Create) || e.Has(fsnotify.Write)) {
					pending[e.Name] = time.Now()
				}
				if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
					delete(pending, e.Name)
				}

			case now := <-tick.C:
				var ready []string
				for p, last := range pending {
					if now.Sub(last) >= cfg.Debounce {
						ready = append(ready, p)
					}
				}
				sort.Strings(ready)
				for _, p := range ready {
					delete(pending, p)
					if !FileExists(p) {
						continue
					}
					if !emit(p) {
						return
					}
				}

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnw("Watcher error", logging.FieldError, err)
				select {
				case errs <- err:
				default:
				}
			}
		}
	}()

	return paths, errs, nil
}

// watchDir adds path to w when it is a directory. Files are covered by the
// watch on their parent; adding them would duplicate their events.
func watchDir(w *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return nil
	}
	return w.Add(path)
}
