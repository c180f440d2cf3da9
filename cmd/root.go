package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/app"
	"github.com/spigell/auto-applier/internal/config"
	"github.com/spigell/auto-applier/internal/logger"
)

const (
	appName = "auto-applier"
)

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   appName,
		Short: "auto-applier matches candidates to scraped job postings and sends their applications",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is auto-applier.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// The version command works without any configuration.
	if versionCmd.CalledAs() != "" {
		return
	}

	// We can't proceed if the config file parsed with error.
	if err := config.Init(viper.GetViper(), cfgFile, appName); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// setup builds the logger, the config and the application. With matching set
// it also builds the embedding provider and everything that depends on it.
// Any failure is fatal.
func setup(ctx context.Context, matching bool) (*app.App, *zap.Logger) {
	logger, err := logger.New(logger.Options{
		JSON:    viper.GetBool("json"),
		Debug:   viper.GetBool("debug"),
		Service: appName,
		Version: version,
	})
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Debug("starting with config",
		zap.String("store", config.Store.Driver),
		zap.String("embedding_provider", config.Embedding.Provider),
		zap.Bool("redis", config.Redis.URL != ""),
	)

	a, err := app.New(ctx, config, logger)
	if err != nil {
		logger.Fatal("initializing", zap.Error(err))
	}

	if matching {
		if err := a.EnableMatching(ctx); err != nil {
			_ = a.Close()
			logger.Fatal(
				"enabling matching",
				zap.Error(err),
				zap.String("hint", "set embedding.gemini.api-key-file or AUTOAPPLY_EMBEDDING_GEMINI_API_KEY, or switch embedding.provider to ollama"),
			)
		}
	}

	return a, logger
}
