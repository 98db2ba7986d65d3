package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/tebiki/internal/config"
	"github.com/hyperjump/tebiki/internal/models"
	"github.com/hyperjump/tebiki/internal/ragconfig"
)

func TestBuildSearchQuery(t *testing.T) {
	q := buildSearchQuery([]string{"machine", "learning"}, 0, false, 0, false)
	if q.Query != "machine learning" {
		t.Errorf("Query = %q, want %q", q.Query, "machine learning")
	}
	if q.Limit != nil || q.Threshold != nil {
		t.Errorf("unset flags should leave Limit and Threshold nil, got %v %v", q.Limit, q.Threshold)
	}

	q = buildSearchQuery([]string{" neural networks "}, 5, true, 0, true)
	if q.Query != "neural networks" {
		t.Errorf("Query = %q, want trimmed", q.Query)
	}
	if q.Limit == nil || *q.Limit != 5 {
		t.Errorf("Limit = %v, want 5", q.Limit)
	}
	// An explicit zero threshold is sent, not dropped.
	if q.Threshold == nil || *q.Threshold != 0 {
		t.Errorf("Threshold = %v, want explicit 0", q.Threshold)
	}
}

func TestParsePatch(t *testing.T) {
	p, err := parsePatch([]string{"chunkSize=600", " rerankMin = 0.4 "})
	if err != nil {
		t.Fatal(err)
	}
	if p.ChunkSize == nil || *p.ChunkSize != 600 {
		t.Errorf("ChunkSize = %v, want 600", p.ChunkSize)
	}
	if p.RerankMin == nil || *p.RerankMin != 0.4 {
		t.Errorf("RerankMin = %v, want 0.4", p.RerankMin)
	}
	if p.EmbedDim != nil {
		t.Error("unset fields should stay nil")
	}

	for _, args := range [][]string{
		{"chunkSize"},
		{"=5"},
		{"chunkSize=big"},
		{"chunkSize=1.5"},
		{"noSuchField=1"},
	} {
		if _, err := parsePatch(args); err == nil {
			t.Errorf("parsePatch(%q) should fail", args)
		}
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
database:
  url: "sqlite://test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	t.Setenv(config.EnvDatabaseURL, "")

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
	if cfg.Database.URL != "sqlite://test.db" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvPort, "")

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestLoadConfig_missingDefaultUsesEnv(t *testing.T) {
	if _, err := os.Stat(defaultConfigPath); err == nil {
		t.Skip("a system config exists at the default path")
	}
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DATABASE_URL=sqlite::memory:\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// Registered so the value loaded from .env is restored afterwards.
	t.Setenv(config.EnvDatabaseURL, "")
	if err := os.Unsetenv(config.EnvDatabaseURL); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "" {
		t.Errorf("resolved path = %q, want empty", resolved)
	}
	if cfg.Database.URL != "sqlite::memory:" {
		t.Errorf("Database.URL = %q, want value from .env", cfg.Database.URL)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}
}

func TestIngestableFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.md", "c.bin", "nested/d.pdf", ".git/e.txt"} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	files, err := ingestableFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	var rel []string
	for _, f := range files {
		r, _ := filepath.Rel(dir, f)
		rel = append(rel, filepath.ToSlash(r))
	}
	got := strings.Join(rel, ",")
	if got != "a.txt,b.md,nested/d.pdf" {
		t.Errorf("ingestableFiles = %s", got)
	}
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if out != "tebiki dev\n" {
		t.Errorf("version output = %q", out)
	}
}

func TestIngestTextCommand(t *testing.T) {
	var got models.IngestRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/ingest" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.IngestResult{DocID: "abc", Chunks: 1, Version: 1, Message: models.MessageIngested})
	}))
	defer ts.Close()

	out, err := runCommand(t, "ingest", "--server", ts.URL, "--text", "hello world", "--filename", "notes.txt", "--tags", "a,b", "--key", "k1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "hello world" || got.Filename != "notes.txt" || got.Key != "k1" {
		t.Errorf("request = %+v", got)
	}
	if strings.Join(got.Tags, ",") != "a,b" {
		t.Errorf("tags = %v", got.Tags)
	}
	if !strings.Contains(out, "abc") {
		t.Errorf("output should mention the doc id: %q", out)
	}
}

func TestIngestTextCommand_defaultFilename(t *testing.T) {
	var got models.IngestRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.IngestResult{DocID: "abc", Chunks: 1, Version: 1})
	}))
	defer ts.Close()

	if _, err := runCommand(t, "ingest", "--server", ts.URL, "--text", "hello world"); err != nil {
		t.Fatal(err)
	}
	if got.Filename != "text.txt" {
		t.Errorf("filename = %q, want text.txt so the server accepts the request", got.Filename)
	}
}

func TestIngestCommand_nothingToIngest(t *testing.T) {
	if _, err := runCommand(t, "ingest"); err == nil {
		t.Error("ingest without input should fail")
	}
}

func TestStatusCommand_JSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"documents":2,"chunks":5,"vectors":5,"timestamp":"2026-01-01T00:00:00Z"}`))
	}))
	defer ts.Close()

	out, err := runCommand(t, "status", "--server", ts.URL, "--json")
	if err != nil {
		t.Fatal(err)
	}
	var st struct {
		Documents int64 `json:"documents"`
		Vectors   int64 `json:"vectors"`
	}
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if st.Documents != 2 || st.Vectors != 5 {
		t.Errorf("status = %+v", st)
	}
}

func TestConfigValidateCommand_invalid(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"valid":false,"error":"Validation failed","errors":["chunkSize: must be between 100 and 2000"]}`))
	}))
	defer ts.Close()

	out, err := runCommand(t, "config", "validate", "--server", ts.URL, "chunkSize=50")
	if err == nil {
		t.Fatal("invalid configuration should return an error")
	}
	if !strings.Contains(out, "chunkSize: must be between 100 and 2000") {
		t.Errorf("output should list errors: %q", out)
	}
}

func TestNewRagStore(t *testing.T) {
	cfg := &config.Config{Rag: config.RagStoreConfig{Store: config.RagStoreFile, ConfigPath: filepath.Join(t.TempDir(), "rag.json")}}
	store, err := newRagStore(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*ragconfig.FileStore); !ok {
		t.Errorf("store = %T, want *ragconfig.FileStore", store)
	}

	cfg.Rag.Store = config.RagStorePostgres
	if _, err := newRagStore(cfg, nil); err == nil {
		t.Error("postgres rag store without a postgres database should fail")
	}
	cfg.Rag.Store = "etcd"
	if _, err := newRagStore(cfg, nil); err == nil {
		t.Error("unknown rag store should fail")
	}
}

func TestInitializeComponents_embedDimUpdateAppliesWithoutRestart(t *testing.T) {
	t.Setenv("EMBED_DIM", "")
	cfg := &config.Config{
		Database:  config.DatabaseConfig{URL: "sqlite::memory:"},
		Embedding: config.EmbeddingConfig{Provider: config.ProviderMock},
		Rag:       config.RagStoreConfig{Store: config.RagStoreFile, ConfigPath: filepath.Join(t.TempDir(), "rag.json")},
	}
	config.ApplyDefaults(cfg)
	ctx := context.Background()
	c, err := initializeComponents(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	dim := 64
	threshold := 0.0
	if _, _, err := c.rag.Update(ctx, ragconfig.Patch{EmbedDim: &dim, SimilarityThreshold: &threshold}); err != nil {
		t.Fatal(err)
	}

	res, err := c.indexer.Ingest(ctx, models.IngestRequest{Filename: "a.txt", Text: "Graceful shutdown drains connections."})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Skipped) != 0 || res.Stats.VectorsStored != res.Chunks {
		t.Errorf("ingest after embedDim change = %+v, want every vector stored", res)
	}
	resp, err := c.engine.Search(ctx, &models.SearchQuery{Query: "graceful shutdown"})
	if err != nil {
		t.Fatalf("search after embedDim change: %v", err)
	}
	if len(resp.Results) == 0 || resp.Results[0].DocID != res.DocID {
		t.Errorf("results = %+v, want the new document", resp.Results)
	}
}
