package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/tebiki/internal/config"
	"github.com/hyperjump/tebiki/internal/docid"
	"github.com/hyperjump/tebiki/internal/models"
)

type fakeSink struct {
	mu      sync.Mutex
	keys    []string
	tags    [][]string
	deleted []string
}

func (s *fakeSink) IngestFile(_ context.Context, path, key string, tags []string) (*models.IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	s.tags = append(s.tags, tags)
	return &models.IngestResult{DocID: docid.KeyID(key), Version: 1}, nil
}

func (s *fakeSink) Delete(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, docID)
	return nil
}

func (s *fakeSink) ingested() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.keys...)
	sort.Strings(out)
	return out
}

func (s *fakeSink) deletions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func startWatcher(t *testing.T, sink Sink, cfg config.WatchConfig) *Watcher {
	t.Helper()
	w := New(sink, cfg, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	return w
}

func TestWatcher_SyncUsesRelativeKeys(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "alpha")
	writeFile(t, filepath.Join(dir, "nested", "b.md"), "beta")
	writeFile(t, filepath.Join(dir, "ignore.xyz"), "skip")

	sink := &fakeSink{}
	w := New(sink, config.WatchConfig{
		Directories: []string{dir},
		Extensions:  []string{".txt", ".md"},
		Tags:        []string{"watched"},
	})
	n := w.Sync(context.Background())

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a.txt", "nested/b.md"}, sink.ingested())
	assert.Equal(t, []string{"watched"}, sink.tags[0])
}

func TestWatcher_SyncNonRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "top.txt"), "top")
	writeFile(t, filepath.Join(dir, "sub", "deep.txt"), "deep")

	recursive := false
	sink := &fakeSink{}
	w := New(sink, config.WatchConfig{Directories: []string{dir}, Recursive: &recursive})
	assert.Equal(t, 1, w.Sync(context.Background()))
	assert.Equal(t, []string{"top.txt"}, sink.ingested())
}

func TestWatcher_DebouncedIngestOnWrite(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{}
	startWatcher(t, sink, config.WatchConfig{Directories: []string{dir}, Extensions: []string{".txt"}})

	path := filepath.Join(dir, "notes.txt")
	for i := 0; i < 3; i++ {
		writeFile(t, path, "revision")
	}
	writeFile(t, filepath.Join(dir, "skip.bin"), "binary")

	require.Eventually(t, func() bool {
		return contains(sink.ingested(), "notes.txt")
	}, 3*time.Second, 20*time.Millisecond)
	assert.False(t, contains(sink.ingested(), "skip.bin"))
}

func TestWatcher_RemoveDeletesKeyedDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	writeFile(t, path, "soon removed")

	sink := &fakeSink{}
	startWatcher(t, sink, config.WatchConfig{Directories: []string{dir}, Extensions: []string{".txt"}})
	require.NoError(t, os.Remove(path))

	want := docid.KeyID("gone.txt")
	require.Eventually(t, func() bool {
		return contains(sink.deletions(), want)
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_NewDirectoryIsIngested(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{}
	startWatcher(t, sink, config.WatchConfig{Directories: []string{dir}, Extensions: []string{".txt", ".md"}})

	nested := filepath.Join(dir, "level1", "level2")
	require.NoError(t, os.MkdirAll(nested, 0755))
	writeFile(t, filepath.Join(nested, "deep.txt"), "deep content")
	writeFile(t, filepath.Join(dir, "level1", "doc.md"), "markdown")

	require.Eventually(t, func() bool {
		keys := sink.ingested()
		return contains(keys, "level1/level2/deep.txt") && contains(keys, "level1/doc.md")
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_StartCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	w := startWatcher(t, &fakeSink{}, config.WatchConfig{Directories: []string{root}})

	_, err := os.Stat(root)
	assert.NoError(t, err)
	assert.Equal(t, []string{root}, w.Directories())
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := New(&fakeSink{}, config.WatchConfig{Directories: []string{t.TempDir()}})
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}

func TestWatcher_RootOfPrefersMostSpecific(t *testing.T) {
	w := New(&fakeSink{}, config.WatchConfig{Directories: []string{"/data", "/data/docs"}})
	assert.Equal(t, "/data/docs", w.rootOf("/data/docs/a.txt"))
	assert.Equal(t, "/data", w.rootOf("/data/other/b.txt"))
	assert.Equal(t, "", w.rootOf("/elsewhere/c.txt"))
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}
