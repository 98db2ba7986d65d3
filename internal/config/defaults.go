package config

import "time"

// Embedding providers.
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// RagConfig stores.
const (
	RagStoreFile     = "file"
	RagStorePostgres = "postgres"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 2 * time.Minute
	}
	if cfg.Server.RateLimit == "" {
		cfg.Server.RateLimit = "60-M"
	}
	if cfg.Server.UploadLimit == 0 {
		cfg.Server.UploadLimit = 20 << 20
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 5 * time.Second
	}
	if cfg.Database.IngestTimeout == 0 {
		cfg.Database.IngestTimeout = 5 * time.Minute
	}
	if cfg.Embedding.Provider == "" {
		// Without credentials there is no provider to call.
		cfg.Embedding.Provider = ProviderMock
		if cfg.Embedding.APIKey != "" {
			cfg.Embedding.Provider = ProviderOpenAI
		}
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 2
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Rag.Store == "" {
		cfg.Rag.Store = RagStoreFile
	}
	if cfg.Rag.ConfigPath == "" {
		cfg.Rag.ConfigPath = "./data/rag-config.json"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx", ".pptx"}
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
