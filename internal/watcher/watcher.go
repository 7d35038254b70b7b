// Package watcher auto-ingests knowledge files dropped into a watched
// directory, so operators can extend the corpus with a copy instead of an
// API call.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Alroma79/data-flywheel-chatbot/internal/ingest"
)

// settleDelay is how long a file must sit unchanged before ingestion, so
// partially copied files are not picked up mid-write.
const settleDelay = 500 * time.Millisecond

// Watcher ingests supported files appearing in one directory.
type Watcher struct {
	dir      string
	ingestor *ingest.Ingestor
	fsw      *fsnotify.Watcher
}

func New(dir string, ingestor *ingest.Ingestor) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create watch dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{dir: dir, ingestor: ingestor, fsw: fsw}, nil
}

// Start ingests existing files, then processes events until the context is
// canceled.
func (w *Watcher) Start(ctx context.Context) {
	w.sweep(ctx)

	go func() {
		defer w.fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) {
					w.handle(ctx, ev.Name)
				}
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				slog.Error("watcher: filesystem error", "error", err)
			}
		}
	}()

	slog.Info("watcher: watching for knowledge files", "dir", w.dir)
}

// sweep ingests files already present when the watcher starts.
func (w *Watcher) sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		slog.Error("watcher: failed to read watch dir", "dir", w.dir, "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		w.ingestFile(ctx, filepath.Join(w.dir, e.Name()))
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	if ingest.TypeForFilename(path) == "" {
		return
	}

	// Let the write settle before reading.
	timer := time.NewTimer(settleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	w.ingestFile(ctx, path)
}

func (w *Watcher) ingestFile(ctx context.Context, path string) {
	if ingest.TypeForFilename(path) == "" {
		return
	}
	res, err := w.ingestor.AddPath(ctx, path)
	if err != nil {
		slog.Warn("watcher: failed to ingest file", "path", path, "error", err)
		return
	}
	if res.Duplicate {
		slog.Debug("watcher: file already ingested", "path", path)
		return
	}
	slog.Info("watcher: file ingested", "path", path, "filename", res.File.Filename)
}
