// Package watcher keeps watched directories ingested: created or modified
// files are re-ingested under a key derived from their path, removed files
// have their documents deleted.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/tebiki/internal/config"
	"github.com/hyperjump/tebiki/internal/docid"
	"github.com/hyperjump/tebiki/internal/indexer"
	"github.com/hyperjump/tebiki/internal/models"
)

const defaultDebounce = 500 * time.Millisecond

// Sink receives keyed file ingests and document deletions. *indexer.Indexer implements it.
type Sink interface {
	IngestFile(ctx context.Context, path, key string, tags []string) (*models.IngestResult, error)
	Delete(ctx context.Context, docID string) error
}

// Watcher watches directory roots and forwards file changes to a Sink.
type Watcher struct {
	sink       Sink
	roots      []string
	extensions []string
	tags       []string
	recursive  bool
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	ctx      context.Context
	pending  map[string]*time.Timer
	inflight sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce overrides the quiet period before a changed file is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New returns a watcher for the directories, extensions and tags of cfg.
// Roots are made absolute; call Start to begin watching.
func New(sink Sink, cfg config.WatchConfig, opts ...Option) *Watcher {
	w := &Watcher{
		sink:       sink,
		extensions: cfg.Extensions,
		tags:       cfg.Tags,
		recursive:  cfg.RecursiveOrDefault(),
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	if cfg.Debounce > 0 {
		w.debounce = cfg.Debounce
	}
	for _, root := range cfg.Directories {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		w.roots = append(w.roots, filepath.Clean(root))
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Directories returns a copy of the watched roots.
func (w *Watcher) Directories() []string {
	return append([]string(nil), w.roots...)
}

// Start registers every root (creating missing ones) and watches until ctx
// is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, root := range w.roots {
		if err := os.MkdirAll(root, 0755); err != nil {
			_ = fsw.Close()
			return err
		}
		if err := w.addTree(fsw, root); err != nil {
			_ = fsw.Close()
			return err
		}
	}
	w.fsw = fsw
	w.ctx = ctx
	w.logger.Info("watching directories",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive),
		zap.Duration("debounce", w.debounce))
	go w.run(ctx, fsw)
	return nil
}

// addTree watches dir, and its subdirectories when recursive.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	if !w.recursive {
		return fsw.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	root := w.rootOf(path)
	if root == "" {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			// Files copied in with the directory produce no events of their own.
			if w.recursive {
				if err := w.addTree(fsw, path); err != nil {
					w.logger.Warn("failed to watch directory", zap.String("path", path), zap.Error(err))
				}
			}
			w.syncDir(root, path)
			return
		}
		if indexer.ExtensionAllowed(filepath.Ext(path), w.extensions) {
			w.schedule(root, path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
		if indexer.ExtensionAllowed(filepath.Ext(path), w.extensions) {
			w.remove(root, path)
		}
	}
}

// rootOf returns the most specific watched root containing path, or "".
func (w *Watcher) rootOf(path string) string {
	best := ""
	for _, root := range w.roots {
		if inDir(root, path) && len(root) > len(best) {
			best = root
		}
	}
	return best
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// schedule ingests path once no further events arrive for it within the debounce period.
func (w *Watcher) schedule(root, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok && t.Stop() {
		w.inflight.Done()
	}
	w.inflight.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		defer w.inflight.Done()
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		ctx := w.ctx
		w.mu.Unlock()
		w.ingest(ctx, root, path)
	})
	w.pending[path] = t
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok && t.Stop() {
		delete(w.pending, path)
		w.inflight.Done()
	}
}

func (w *Watcher) ingest(ctx context.Context, root, path string) {
	if ctx == nil || ctx.Err() != nil {
		return
	}
	key := docid.FileKey(root, path)
	res, err := w.sink.IngestFile(ctx, path, key, w.tags)
	if err != nil {
		w.logger.Warn("failed to ingest watched file", zap.String("path", path), zap.String("key", key), zap.Error(err))
		return
	}
	w.logger.Info("ingested watched file",
		zap.String("path", path),
		zap.String("doc_id", res.DocID),
		zap.Int("version", res.Version),
		zap.Bool("unchanged", res.Unchanged))
}

func (w *Watcher) remove(root, path string) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	key := docid.FileKey(root, path)
	err := w.sink.Delete(ctx, docid.KeyID(key))
	switch {
	case errors.Is(err, models.ErrNotFound):
	case err != nil:
		w.logger.Warn("failed to delete document of removed file", zap.String("path", path), zap.Error(err))
	default:
		w.logger.Info("deleted document of removed file", zap.String("path", path), zap.String("key", key))
	}
}

// Sync ingests every matching file already present under the roots and
// returns how many were ingested. Failures are logged and skipped.
func (w *Watcher) Sync(ctx context.Context) int {
	n := 0
	for _, root := range w.roots {
		n += w.syncTree(ctx, root, root)
	}
	return n
}

func (w *Watcher) syncDir(root, dir string) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx != nil {
		w.syncTree(ctx, root, dir)
	}
}

func (w *Watcher) syncTree(ctx context.Context, root, dir string) int {
	n := 0
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != dir && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !indexer.ExtensionAllowed(filepath.Ext(path), w.extensions) {
			return nil
		}
		key := docid.FileKey(root, path)
		if _, err := w.sink.IngestFile(ctx, path, key, w.tags); err != nil {
			w.logger.Warn("failed to ingest file", zap.String("path", path), zap.Error(err))
			return nil
		}
		n++
		return nil
	})
	return n
}

// Stop stops watching and waits for debounced ingests already running.
// Pending ones that have not fired are dropped.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		for path, t := range w.pending {
			if t.Stop() {
				w.inflight.Done()
			}
			delete(w.pending, path)
		}
		if w.fsw != nil {
			_ = w.fsw.Close()
		}
		w.mu.Unlock()
		close(w.done)
		w.inflight.Wait()
	})
}
