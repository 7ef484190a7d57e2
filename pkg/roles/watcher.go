package roles

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/crozierhq/crozier/pkg/observability"
)

// Watcher hot-reloads a catalog when its seed file changes. Editors
// usually replace the file by renaming a temp file over it, which would
// drop a watch on the file itself, so the watch sits on the directory
// and events are filtered down to the catalog path.
type Watcher struct {
	catalog *Catalog
	path    string
	fsw     *fsnotify.Watcher
	logger  *observability.Logger
	done    chan struct{}
}

// WatchCatalog starts watching the seed file at path and reloading
// catalog on change. A reload that fails to parse is logged and the
// previous contents keep serving.
func WatchCatalog(catalog *Catalog, path string, logger *observability.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch catalog directory: %w", err)
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	w := &Watcher{
		catalog: catalog,
		path:    filepath.Clean(path),
		fsw:     fsw,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := w.catalog.Load(w.path); err != nil {
				w.logger.WithError(err).WithField("path", w.path).Error("failed to reload role catalog")
				continue
			}
			w.logger.WithField("path", w.path).Info("reloaded role catalog")
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("catalog watcher error")
		}
	}
}

// Close stops watching. The catalog keeps its last loaded contents.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
