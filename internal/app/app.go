// Package app builds the components described by a config.Config and owns their lifetime.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/ai"
	"github.com/spigell/auto-applier/internal/ai/gemini"
	"github.com/spigell/auto-applier/internal/ai/ollama"
	"github.com/spigell/auto-applier/internal/backfill"
	"github.com/spigell/auto-applier/internal/config"
	"github.com/spigell/auto-applier/internal/dispatch"
	"github.com/spigell/auto-applier/internal/embedding"
	"github.com/spigell/auto-applier/internal/ingest"
	"github.com/spigell/auto-applier/internal/keywords"
	"github.com/spigell/auto-applier/internal/lock"
	"github.com/spigell/auto-applier/internal/logger"
	"github.com/spigell/auto-applier/internal/matching"
	"github.com/spigell/auto-applier/internal/metrics"
	"github.com/spigell/auto-applier/internal/outreach"
	"github.com/spigell/auto-applier/internal/secrets"
	"github.com/spigell/auto-applier/internal/stats"
	"github.com/spigell/auto-applier/internal/store"
	"github.com/spigell/auto-applier/internal/store/memstore"
	"github.com/spigell/auto-applier/internal/store/postgres"
	"github.com/spigell/auto-applier/internal/store/sqlite"
)

// App holds the wired components. The matching engine (embedder, matcher,
// dispatcher, estimator, backfiller) is built on demand by EnableMatching so
// that commands which only touch the store do not need provider credentials.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      store.Store
	Metrics    *metrics.Metrics
	Locker     lock.Locker
	Messenger  outreach.Messenger
	Importer   *ingest.Importer
	AdminToken string

	Embedder   ai.Embedder
	Cache      *embedding.Cache
	Matcher    *matching.Matcher
	Dispatcher *dispatch.Dispatcher
	Estimator  *stats.Estimator
	Backfiller *backfill.Backfiller

	redis *redis.Client
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	a := &App{
		Config:  cfg,
		Logger:  logger.WithFields(log),
		Metrics: metrics.New(),
	}

	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	st, err := OpenStore(ctx, a.Config.Store)
	if err != nil {
		return err
	}
	a.Store = st

	if a.Config.Redis.URL != "" {
		rdb, err := NewRedisClient(ctx, a.Config.Redis.URL)
		if err != nil {
			return err
		}
		a.redis = rdb
		a.Locker = lock.NewRedis(rdb)

		pub, err := outreach.NewPublisher(rdb, a.Logger)
		if err != nil {
			return err
		}
		a.Messenger = pub
	} else {
		a.Logger.Warn("redis is not configured: using an in-process lock and logging outbound messages")
		a.Locker = lock.NewLocal()
		a.Messenger = outreach.NewLogSender(a.Logger)
	}

	token, err := secrets.LoadOptional(secrets.Source{
		Name:  "admin token",
		Value: a.Config.Server.AdminToken,
		File:  a.Config.Server.AdminTokenFile,
	})
	if err != nil {
		return err
	}
	a.AdminToken = token

	a.Importer, err = ingest.New(a.Store, a.Logger)
	return err
}

// OpenStore opens the configured backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.DSN)
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DSN)
	case config.DriverMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// NewEmbedder creates the configured embedding provider.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (ai.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		key, err := secrets.Load(secrets.Source{
			Name:  "gemini api key",
			Value: cfg.Gemini.APIKey,
			File:  cfg.Gemini.APIKeyFile,
		})
		if err != nil {
			return nil, err
		}
		return gemini.NewEmbedder(ctx, key, cfg.Model)
	case config.ProviderOllama:
		return ollama.NewEmbedder(ollama.Config{
			BaseURL: cfg.Ollama.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Ollama.Timeout,
		}, nil)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// EnableMatching builds the embedding provider and everything that depends on it.
func (a *App) EnableMatching(ctx context.Context) error {
	if a.Dispatcher != nil {
		return nil
	}

	provider, err := NewEmbedder(ctx, a.Config.Embedding)
	if err != nil {
		return fmt.Errorf("embedding provider: %w", err)
	}
	return a.enableMatching(provider)
}

func (a *App) enableMatching(provider ai.Embedder) error {
	lex, err := loadLexicon(a.Config.Matching.LexiconFile)
	if err != nil {
		return err
	}

	matcher, err := matching.New(a.Config.Matching.Thresholds(), keywords.NewExtractor(lex))
	if err != nil {
		return fmt.Errorf("matcher: %w", err)
	}

	cache, err := embedding.NewCache(provider, a.Store, a.Store, a.Metrics, a.Logger)
	if err != nil {
		return err
	}

	dispatcher, err := dispatch.New(a.Store, cache, matcher, a.Messenger, a.Config.Dispatch.Engine(), a.Logger,
		dispatch.WithMetrics(a.Metrics),
		dispatch.WithNotifier(a.Messenger),
	)
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	estimator, err := stats.New(a.Store, cache, matcher, a.Config.Stats.Engine(), a.Metrics, a.Logger)
	if err != nil {
		return fmt.Errorf("stats estimator: %w", err)
	}

	backfiller, err := backfill.New(a.Store, provider, a.Config.Backfill.Engine(), a.Metrics, a.Logger)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	a.Embedder = provider
	a.Matcher = matcher
	a.Cache = cache
	a.Dispatcher = dispatcher
	a.Estimator = estimator
	a.Backfiller = backfiller

	a.Logger.Info("matching enabled", logger.CommonFields(provider.Provider(), provider.Model())...)
	return nil
}

func loadLexicon(path string) (*keywords.Lexicon, error) {
	if path == "" {
		return keywords.DefaultLexicon()
	}
	lex, err := keywords.LoadLexicon(path)
	if err != nil {
		return nil, fmt.Errorf("lexicon: %w", err)
	}
	return lex, nil
}

func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
