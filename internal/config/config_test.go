package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Sync.BatchSize != 200 {
		t.Errorf("Sync.BatchSize = %d, want 200", cfg.Sync.BatchSize)
	}
	if cfg.Sync.EmbedConcurrency != 8 {
		t.Errorf("Sync.EmbedConcurrency = %d, want 8", cfg.Sync.EmbedConcurrency)
	}
	if cfg.Sync.RetryBackoff != 200*time.Millisecond {
		t.Errorf("Sync.RetryBackoff = %v, want 200ms", cfg.Sync.RetryBackoff)
	}
	if cfg.Dedupe.SimilarityThreshold != 0.85 {
		t.Errorf("Dedupe.SimilarityThreshold = %v, want 0.85", cfg.Dedupe.SimilarityThreshold)
	}
	if cfg.Validation.SimilarityThreshold != 0.90 || cfg.Validation.ExactThreshold != 0.97 {
		t.Errorf("Validation thresholds = %v/%v, want 0.90/0.97",
			cfg.Validation.SimilarityThreshold, cfg.Validation.ExactThreshold)
	}
	if cfg.VectorStore.Driver != "qdrant" {
		t.Errorf("VectorStore.Driver = %q, want qdrant", cfg.VectorStore.Driver)
	}
}

func TestLoadDatasources(t *testing.T) {
	body := `
vector_store:
  driver: local
datasources:
  - id: erp
    kind: postgres
    dsn_env: ERP_DSN
    table: productos
    key_column: sku
    marker_column: updated_at
    watermark_kind: timestamp
    text_columns: [descripcion, marca, modelo]
    target_collection: productos
    distance: cosine
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Datasources) != 1 {
		t.Fatalf("len(Datasources) = %d, want 1", len(cfg.Datasources))
	}

	ds := cfg.Datasources[0].ToDomain()
	if ds.Name != "erp" {
		t.Errorf("Name = %q, want id fallback %q", ds.Name, "erp")
	}
	if ds.Distance != domain.DistanceCosine {
		t.Errorf("Distance = %q, want %q", ds.Distance, domain.DistanceCosine)
	}
	if ds.WatermarkKind != domain.WatermarkTimestamp {
		t.Errorf("WatermarkKind = %q, want timestamp", ds.WatermarkKind)
	}
	if len(ds.TextColumns) != 3 || ds.TextColumns[0] != "descripcion" {
		t.Errorf("TextColumns = %v", ds.TextColumns)
	}
	if ds.Watermark != "" {
		t.Errorf("seeded Watermark = %q, want empty", ds.Watermark)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database:    DatabaseConfig{Driver: "sqlite", Path: "x.db"},
			VectorStore: VectorStoreConfig{Driver: "local"},
			Embedding:   EmbeddingConfig{Provider: "jina", Model: "m", Dimensions: 8},
			Sync:        SyncConfig{BatchSize: 10, EmbedConcurrency: 2, RetryAttempts: 1},
			Dedupe:      DedupeConfig{SimilarityThreshold: 0.85},
			Validation:  ValidationConfig{SimilarityThreshold: 0.9, ExactThreshold: 0.97},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown database driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Database.Driver = "postgres" }, wantErr: true},
		{name: "unknown vector store", mutate: func(c *Config) { c.VectorStore.Driver = "milvus" }, wantErr: true},
		{name: "zero batch size", mutate: func(c *Config) { c.Sync.BatchSize = 0 }, wantErr: true},
		{name: "threshold above one", mutate: func(c *Config) { c.Dedupe.SimilarityThreshold = 1.2 }, wantErr: true},
		{name: "exact below similarity", mutate: func(c *Config) { c.Validation.ExactThreshold = 0.8 }, wantErr: true},
		{name: "openai-compatible without base url", mutate: func(c *Config) { c.Embedding.Provider = "openai-compatible" }, wantErr: true},
		{
			name: "duplicate datasource ids",
			mutate: func(c *Config) {
				ds := DatasourceConfig{
					ID: "a", Kind: "jsonl", Path: "a.jsonl", KeyColumn: "id", MarkerColumn: "v",
					WatermarkKind: "id", TextColumns: []string{"t"}, TargetCollection: "c",
				}
				c.Datasources = []DatasourceConfig{ds, ds}
			},
			wantErr: true,
		},
		{
			name: "invalid datasource",
			mutate: func(c *Config) {
				c.Datasources = []DatasourceConfig{{ID: "a", Kind: "oracle"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEmbeddingResolveEnvVars(t *testing.T) {
	t.Setenv("CATALOGSYNC_TEST_EMBED_KEY", "secret")

	cfg := EmbeddingConfig{APIKeyEnv: "CATALOGSYNC_TEST_EMBED_KEY"}
	cfg.ResolveEnvVars()
	if cfg.APIKey != "secret" {
		t.Errorf("APIKey = %q, want secret", cfg.APIKey)
	}

	direct := EmbeddingConfig{APIKey: "direct", APIKeyEnv: "CATALOGSYNC_TEST_EMBED_KEY"}
	direct.ResolveEnvVars()
	if direct.APIKey != "direct" {
		t.Errorf("APIKey = %q, direct value must win", direct.APIKey)
	}
}

func TestEmbeddingRequireAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		cfg     EmbeddingConfig
		wantErr bool
	}{
		{"with key", EmbeddingConfig{Provider: "jina", Model: "m", Dimensions: 8, APIKey: "k"}, false},
		{"missing key", EmbeddingConfig{Provider: "jina", Model: "m", Dimensions: 8, APIKeyEnv: "CATALOGSYNC_UNSET_KEY"}, true},
		{"invalid config", EmbeddingConfig{Provider: "jina", APIKey: "k"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.RequireAPIKey(); (err != nil) != tt.wantErr {
				t.Errorf("RequireAPIKey() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
