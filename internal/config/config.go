// Package config loads the runtime configuration from an optional yaml file,
// AUTOAPPLY_* environment variables and a .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/spigell/auto-applier/internal/backfill"
	"github.com/spigell/auto-applier/internal/dispatch"
	"github.com/spigell/auto-applier/internal/matching"
	"github.com/spigell/auto-applier/internal/stats"
)

const (
	EnvPrefix = "AUTOAPPLY"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Matching  MatchingConfig  `mapstructure:"matching"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Stats     StatsConfig     `mapstructure:"stats"`
	Backfill  BackfillConfig  `mapstructure:"backfill"`
	Server    ServerConfig    `mapstructure:"server"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig is optional. Without a url the lock is in-process and outbound
// messages are only logged.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type EmbeddingConfig struct {
	Provider string       `mapstructure:"provider"`
	Model    string       `mapstructure:"model"`
	Gemini   GeminiConfig `mapstructure:"gemini"`
	Ollama   OllamaConfig `mapstructure:"ollama"`
}

type GeminiConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
}

type OllamaConfig struct {
	BaseURL string        `mapstructure:"base-url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type MatchingConfig struct {
	Strict          float64 `mapstructure:"strict"`
	Similarity      float64 `mapstructure:"similarity"`
	KeywordMin      float64 `mapstructure:"keyword-min"`
	KeywordFallback float64 `mapstructure:"keyword-fallback"`
	LexiconFile     string  `mapstructure:"lexicon-file"`
}

func (c MatchingConfig) Thresholds() matching.Thresholds {
	return matching.Thresholds{
		Strict:          c.Strict,
		Similarity:      c.Similarity,
		KeywordMin:      c.KeywordMin,
		KeywordFallback: c.KeywordFallback,
	}
}

type DispatchConfig struct {
	MaxItems     int           `mapstructure:"max-items"`
	MaxDuration  time.Duration `mapstructure:"max-duration"`
	SafetyMargin time.Duration `mapstructure:"safety-margin"`
	PageSize     int           `mapstructure:"page-size"`
	LockTTL      time.Duration `mapstructure:"lock-ttl"`
}

func (c DispatchConfig) Engine() dispatch.Config {
	return dispatch.Config{
		MaxItems:     c.MaxItems,
		MaxDuration:  c.MaxDuration,
		SafetyMargin: c.SafetyMargin,
		PageSize:     c.PageSize,
	}
}

type StatsConfig struct {
	MaxDuration time.Duration `mapstructure:"max-duration"`
	PageSize    int           `mapstructure:"page-size"`
}

func (c StatsConfig) Engine() stats.Config {
	return stats.Config{MaxDuration: c.MaxDuration, PageSize: c.PageSize}
}

type BackfillConfig struct {
	PageSize    int           `mapstructure:"page-size"`
	BatchSize   int           `mapstructure:"batch-size"`
	MaxAttempts int           `mapstructure:"max-attempts"`
	BaseDelay   time.Duration `mapstructure:"base-delay"`
}

func (c BackfillConfig) Engine() backfill.Config {
	return backfill.Config{
		PageSize:    c.PageSize,
		BatchSize:   c.BatchSize,
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
	}
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed-origins"`
	AdminToken     string   `mapstructure:"admin-token"`
	AdminTokenFile string   `mapstructure:"admin-token-file"`
}

// ScheduleConfig holds cron specs. An empty spec disables the job.
type ScheduleConfig struct {
	Sweep    string `mapstructure:"sweep"`
	Backfill string `mapstructure:"backfill"`
}

// SetDefaults registers every key so that environment overrides are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := dispatch.DefaultConfig()
	s := stats.DefaultConfig()
	b := backfill.DefaultConfig()
	t := matching.DefaultThresholds()

	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dsn", "auto-applier.db")
	v.SetDefault("redis.url", "")

	v.SetDefault("embedding.provider", ProviderGemini)
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.gemini.api-key", "")
	v.SetDefault("embedding.gemini.api-key-file", "")
	v.SetDefault("embedding.ollama.base-url", "http://localhost:11434")
	v.SetDefault("embedding.ollama.timeout", time.Minute)

	v.SetDefault("matching.strict", t.Strict)
	v.SetDefault("matching.similarity", t.Similarity)
	v.SetDefault("matching.keyword-min", t.KeywordMin)
	v.SetDefault("matching.keyword-fallback", t.KeywordFallback)
	v.SetDefault("matching.lexicon-file", "")

	v.SetDefault("dispatch.max-items", d.MaxItems)
	v.SetDefault("dispatch.max-duration", d.MaxDuration)
	v.SetDefault("dispatch.safety-margin", d.SafetyMargin)
	v.SetDefault("dispatch.page-size", d.PageSize)
	v.SetDefault("dispatch.lock-ttl", d.MaxDuration+time.Minute)

	v.SetDefault("stats.max-duration", s.MaxDuration)
	v.SetDefault("stats.page-size", s.PageSize)

	v.SetDefault("backfill.page-size", b.PageSize)
	v.SetDefault("backfill.batch-size", b.BatchSize)
	v.SetDefault("backfill.max-attempts", b.MaxAttempts)
	v.SetDefault("backfill.base-delay", b.BaseDelay)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed-origins", []string{})
	v.SetDefault("server.admin-token", "")
	v.SetDefault("server.admin-token-file", "")

	v.SetDefault("schedule.sweep", "0 8 * * *")
	v.SetDefault("schedule.backfill", "")
}

// Init prepares v: defaults, environment binding, the .env file and the config file.
// A missing default config file is not an error; an explicitly named one is.
func Init(v *viper.Viper, file, name string) error {
	// .env is optional.
	_ = godotenv.Load()

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %q: %w", file, err)
		}
		return nil
	}

	v.AddConfigPath(".")
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Embedding.Provider {
	case ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}

	if err := c.Matching.Thresholds().Validate(); err != nil {
		return fmt.Errorf("matching: %w", err)
	}
	if c.Dispatch.MaxItems <= 0 || c.Dispatch.PageSize <= 0 {
		return fmt.Errorf("dispatch.max-items and dispatch.page-size must be positive")
	}
	if c.Dispatch.MaxDuration <= c.Dispatch.SafetyMargin {
		return fmt.Errorf("dispatch.max-duration (%s) must exceed dispatch.safety-margin (%s)", c.Dispatch.MaxDuration, c.Dispatch.SafetyMargin)
	}
	if c.Stats.MaxDuration <= 0 || c.Stats.PageSize <= 0 {
		return fmt.Errorf("stats.max-duration and stats.page-size must be positive")
	}
	if err := c.Backfill.Engine().Validate(); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	return nil
}
