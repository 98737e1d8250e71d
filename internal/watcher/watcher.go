// Package watcher keeps a monitored directory and the vector store in sync:
// new files are detected live and a periodic pass submits anything missing.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"docrag/internal/queue"
	"docrag/internal/task"
	"docrag/internal/vectorstore"
)

type Submitter interface {
	Submit(ctx context.Context, typ task.Type, payload any, opts ...queue.SubmitOption) (string, error)
}

type Lister interface {
	ListDistinctFilenames(ctx context.Context) ([]vectorstore.DocumentInfo, error)
}

type Config struct {
	Root              string
	DefaultSet        string
	ReconcileInterval time.Duration
	Pipeline          string
}

type Watcher struct {
	cfg      Config
	store    Lister
	queue    Submitter
	registry *Registry
	events   chan string
}

func New(cfg Config, store Lister, q Submitter) *Watcher {
	if cfg.DefaultSet == "" {
		cfg.DefaultSet = "default"
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 10 * time.Minute
	}
	return &Watcher{
		cfg:      cfg,
		store:    store,
		queue:    q,
		registry: NewRegistry(),
		events:   make(chan string, 256),
	}
}

// Run watches until ctx is cancelled. Reconciliation runs at startup and
// then every ReconcileInterval.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Root, 0o755); err != nil {
		return fmt.Errorf("monitored dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := w.addTree(fsw, w.cfg.Root); err != nil {
		return err
	}
	slog.InfoContext(ctx, "watching directory", "root", w.cfg.Root, "reconcile_interval", w.cfg.ReconcileInterval)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.dispatch(ctx)
	}()
	go func() {
		defer wg.Done()
		w.reconcileLoop(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				wg.Wait()
				return nil
			}
			w.handleEvent(ctx, fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				wg.Wait()
				return nil
			}
			slog.ErrorContext(ctx, "watch error", "error", err)
		}
	}
}

// handleEvent forwards creates and writes. A file created empty is picked up
// by its first write; the registry drops repeats.
func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if Hidden(w.cfg.Root, ev.Name) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if !ev.Has(fsnotify.Create) {
			return
		}
		if err := w.addTree(fsw, ev.Name); err != nil {
			slog.WarnContext(ctx, "failed to watch new directory", "dir", ev.Name, "error", err)
		}
		// Files may have landed before the watch was added.
		_ = w.walkFiles(ev.Name, func(path string) { w.enqueue(ctx, path) })
		return
	}
	w.enqueue(ctx, ev.Name)
}

func (w *Watcher) enqueue(ctx context.Context, path string) {
	select {
	case w.events <- path:
	case <-ctx.Done():
	}
}

// dispatch is the only consumer of live events.
func (w *Watcher) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.events:
			if _, err := w.submitFile(ctx, path); err != nil {
				slog.ErrorContext(ctx, "failed to submit file", "path", path, "error", err)
			}
		}
	}
}

func (w *Watcher) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		if n, err := w.Reconcile(ctx); err != nil {
			slog.ErrorContext(ctx, "reconciliation aborted", "error", err)
		} else {
			slog.InfoContext(ctx, "reconciliation finished", "submitted", n, "indexed", w.registry.Len())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Reconcile rebuilds the registry from the store and submits every file
// under the root that is not indexed. It submits nothing when the store
// cannot be listed.
func (w *Watcher) Reconcile(ctx context.Context) (int, error) {
	docs, err := w.store.ListDistinctFilenames(ctx)
	if err != nil {
		return 0, fmt.Errorf("list indexed documents: %w", err)
	}
	keys := make([]Key, len(docs))
	for i, d := range docs {
		keys[i] = Key{DocumentSet: d.DocumentSet, Filename: d.Filename}
	}
	w.registry.Replace(keys)

	submitted := 0
	err = w.walkFiles(w.cfg.Root, func(path string) {
		if ctx.Err() != nil {
			return
		}
		ok, err := w.submitFile(ctx, path)
		if err != nil {
			slog.ErrorContext(ctx, "failed to submit file", "path", path, "error", err)
			return
		}
		if ok {
			submitted++
		}
	})
	if err != nil {
		return submitted, err
	}
	return submitted, ctx.Err()
}

// submitFile queues an ingest task for path unless it is hidden, empty or
// already known. It reports whether a task was submitted.
func (w *Watcher) submitFile(ctx context.Context, path string) (bool, error) {
	if Hidden(w.cfg.Root, path) {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return false, nil
	}
	key, err := Identify(w.cfg.Root, path, w.cfg.DefaultSet)
	if err != nil {
		return false, err
	}
	if !w.registry.Add(key) {
		return false, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	taskID, err := w.queue.Submit(ctx, task.TypeIngest, task.IngestPayload{
		Filename:    key.Filename,
		DocumentSet: key.DocumentSet,
		Filepath:    abs,
		Pipeline:    w.cfg.Pipeline,
	})
	if err != nil {
		w.registry.Remove(key)
		return false, err
	}
	slog.InfoContext(ctx, "file submitted", "task_id", taskID, "filename", key.Filename, "document_set", key.DocumentSet)
	return true, nil
}

func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.cfg.Root && Hidden(w.cfg.Root, path) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) walkFiles(dir string, fn func(path string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("walk error", "path", path, "error", err)
			return nil
		}
		if path != w.cfg.Root && Hidden(w.cfg.Root, path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			fn(path)
		}
		return nil
	})
}
