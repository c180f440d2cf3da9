package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Store.Driver != DriverSQLite || cfg.Embedding.Provider != ProviderGemini {
		t.Fatalf("unexpected store/provider defaults: %+v %+v", cfg.Store, cfg.Embedding)
	}
	if cfg.Dispatch.MaxItems != 50 || cfg.Dispatch.MaxDuration != 9*time.Minute {
		t.Fatalf("unexpected dispatch defaults: %+v", cfg.Dispatch)
	}
	if cfg.Dispatch.LockTTL != 10*time.Minute {
		t.Fatalf("expected lock ttl to outlive a run, got %s", cfg.Dispatch.LockTTL)
	}
	if cfg.Backfill.BaseDelay != 1500*time.Millisecond || cfg.Backfill.PageSize != 250 {
		t.Fatalf("unexpected backfill defaults: %+v", cfg.Backfill)
	}
	if cfg.Schedule.Sweep != "0 8 * * *" || cfg.Schedule.Backfill != "" {
		t.Fatalf("unexpected schedule defaults: %+v", cfg.Schedule)
	}
	if got := cfg.Matching.Thresholds(); got.Similarity != 0.58 {
		t.Fatalf("unexpected similarity threshold %v", got.Similarity)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("AUTOAPPLY_DISPATCH_MAX_ITEMS", "7")
	t.Setenv("AUTOAPPLY_DISPATCH_MAX_DURATION", "2m")
	t.Setenv("AUTOAPPLY_STORE_DRIVER", "memory")
	t.Setenv("AUTOAPPLY_SERVER_ADMIN_TOKEN", "s3cret")

	v := viper.New()
	if err := Init(v, "", "auto-applier-missing"); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Dispatch.MaxItems != 7 || cfg.Dispatch.MaxDuration != 2*time.Minute {
		t.Fatalf("env overrides not applied: %+v", cfg.Dispatch)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Fatalf("expected memory driver, got %q", cfg.Store.Driver)
	}
	if cfg.Server.AdminToken != "s3cret" {
		t.Fatalf("expected admin token from env, got %q", cfg.Server.AdminToken)
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auto-applier.yaml")
	data := `
store:
  driver: postgres
  dsn: postgres://localhost/auto
embedding:
  provider: ollama
  model: nomic-embed-text
  ollama:
    timeout: 5s
matching:
  similarity: 0.6
  lexicon-file: /etc/auto-applier/lexicon.yaml
server:
  allowed-origins:
    - https://dashboard.example.com
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	v := viper.New()
	if err := Init(v, path, ""); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Store.Driver != DriverPostgres || cfg.Store.DSN != "postgres://localhost/auto" {
		t.Fatalf("unexpected store: %+v", cfg.Store)
	}
	if cfg.Embedding.Provider != ProviderOllama || cfg.Embedding.Ollama.Timeout != 5*time.Second {
		t.Fatalf("unexpected embedding: %+v", cfg.Embedding)
	}
	if cfg.Embedding.Ollama.BaseURL != "http://localhost:11434" {
		t.Fatalf("expected default base url to survive, got %q", cfg.Embedding.Ollama.BaseURL)
	}
	if cfg.Matching.Similarity != 0.6 || cfg.Matching.Strict != 0.72 {
		t.Fatalf("unexpected matching: %+v", cfg.Matching)
	}
	if cfg.Matching.LexiconFile != "/etc/auto-applier/lexicon.yaml" {
		t.Fatalf("unexpected lexicon file: %q", cfg.Matching.LexiconFile)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://dashboard.example.com" {
		t.Fatalf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
}

func TestExplicitConfigFileMustExist(t *testing.T) {
	v := viper.New()
	err := Init(v, filepath.Join(t.TempDir(), "nope.yaml"), "")
	if err == nil {
		t.Fatal("expected an error for a missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  any
		errSub string
	}{
		{name: "unknown driver", key: "store.driver", value: "mongo", errSub: "unknown store driver"},
		{name: "empty dsn", key: "store.dsn", value: "", errSub: "store.dsn is required"},
		{name: "unknown provider", key: "embedding.provider", value: "openai", errSub: "unknown embedding provider"},
		{name: "similarity out of range", key: "matching.similarity", value: 1.5, errSub: "similarity"},
		{name: "margin exceeds duration", key: "dispatch.safety-margin", value: time.Hour, errSub: "safety-margin"},
		{name: "zero page size", key: "stats.page-size", value: 0, errSub: "stats"},
		{name: "zero batch", key: "backfill.batch-size", value: 0, errSub: "backfill"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			v.Set(tt.key, tt.value)

			_, err := Load(v)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.errSub)
			}
			if !strings.Contains(err.Error(), tt.errSub) {
				t.Fatalf("expected error containing %q, got %v", tt.errSub, err)
			}
		})
	}
}
