package ragconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// EnvEmbedDim overrides the persisted embedDim in loaded copies when set to a positive integer.
const EnvEmbedDim = "EMBED_DIM"

// Manager loads, validates, diffs and persists the RagConfig through a Store.
type Manager struct {
	store  Store
	logger *zap.Logger
	lookup func(string) (string, bool)
	mu     sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger for the manager.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithEnv replaces os.LookupEnv as the source of EMBED_DIM.
func WithEnv(lookup func(string) (string, bool)) ManagerOption {
	return func(m *Manager) {
		m.lookup = lookup
	}
}

// NewManager returns a Manager persisting through store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		logger: zap.NewNop(),
		lookup: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load returns the effective config. A missing config is initialized with
// defaults; an unreadable or invalid one falls back to defaults without
// error. EMBED_DIM is applied to the returned copy only.
func (m *Manager) Load(ctx context.Context) RagConfig {
	m.mu.Lock()
	cfg := m.persisted(ctx)
	m.mu.Unlock()
	return m.withEnv(cfg)
}

// persisted reads the stored config without the environment override. Caller holds m.mu.
func (m *Manager) persisted(ctx context.Context) RagConfig {
	data, err := m.store.Read(ctx)
	if errors.Is(err, ErrNotExist) {
		def := Defaults()
		if err := m.write(ctx, def); err != nil {
			m.logger.Warn("failed to persist default rag config", zap.Error(err))
		} else {
			m.logger.Info("initialized rag config with defaults")
		}
		return def
	}
	if err != nil {
		m.logger.Warn("failed to load rag config, using defaults", zap.Error(err))
		return Defaults()
	}

	// Fields missing from the stored document keep their defaults.
	cfg := Defaults()
	if err := json.Unmarshal(data, &cfg); err != nil {
		m.logger.Warn("failed to parse rag config, using defaults", zap.Error(err))
		return Defaults()
	}
	if err := cfg.Validate(); err != nil {
		m.logger.Warn("persisted rag config is invalid, using defaults", zap.Error(err))
		return Defaults()
	}
	return cfg
}

func (m *Manager) withEnv(cfg RagConfig) RagConfig {
	raw, ok := m.lookup(EnvEmbedDim)
	if !ok {
		return cfg
	}
	dim, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || dim <= 0 {
		m.logger.Warn("ignoring invalid EMBED_DIM", zap.String("value", raw))
		return cfg
	}
	cfg.EmbedDim = dim
	return cfg
}

// Save validates cfg and persists it.
func (m *Manager) Save(ctx context.Context, cfg RagConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write(ctx, cfg)
}

func (m *Manager) write(ctx context.Context, cfg RagConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rag config: %w", err)
	}
	if err := m.store.Write(ctx, data); err != nil {
		return fmt.Errorf("failed to save rag config: %w", err)
	}
	return nil
}

// Update merges p onto the persisted config, validates the result and
// persists it. The returned changes are empty when p changes nothing, in
// which case nothing is written and the current config is returned.
func (m *Manager) Update(ctx context.Context, p Patch) (RagConfig, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.persisted(ctx)
	merged := current.Apply(p)
	if err := merged.Validate(); err != nil {
		return current, nil, err
	}
	changes := Diff(current, p)
	if len(changes) == 0 {
		return current, changes, nil
	}
	if err := m.write(ctx, merged); err != nil {
		return current, nil, err
	}
	m.logger.Info("rag config updated", zap.Strings("changes", changes))
	return merged, changes, nil
}

// Validate reports whether p, merged onto the persisted config, is valid.
// A nil error means valid; otherwise a *models.ValidationError is returned.
func (m *Manager) Validate(ctx context.Context, p Patch) error {
	m.mu.Lock()
	current := m.persisted(ctx)
	m.mu.Unlock()
	return current.Apply(p).Validate()
}

// Diff compares p against the persisted config.
func (m *Manager) Diff(ctx context.Context, p Patch) []string {
	m.mu.Lock()
	current := m.persisted(ctx)
	m.mu.Unlock()
	return Diff(current, p)
}

// Reset restores the hard-coded defaults.
func (m *Manager) Reset(ctx context.Context) (RagConfig, []string, error) {
	return m.Update(ctx, PatchOf(Defaults()))
}

// Export returns the effective config as indented JSON.
func (m *Manager) Export(ctx context.Context) ([]byte, error) {
	data, err := json.MarshalIndent(m.Load(ctx), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rag config: %w", err)
	}
	return data, nil
}
