package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/api"
	"github.com/spigell/auto-applier/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run the scheduled sweep",
	Run: func(cmd *cobra.Command, _ []string) {
		serve(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default from server.addr)")
	serveCmd.Flags().Bool("no-scheduler", false, "serve the API only")

	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func serve(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, logger := setup(ctx, true)
	defer a.Close()

	srv, err := api.New(api.Config{
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		AdminToken:     a.AdminToken,
	}, api.Deps{
		Store:      a.Store,
		Dispatcher: a,
		Estimator:  a.Estimator,
		Backfiller: a.Backfiller,
		Metrics:    a.Metrics,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("creating the api", zap.Error(err))
	}

	if a.AdminToken == "" {
		logger.Warn("admin token is not configured, admin endpoints will answer misconfigured",
			zap.String("hint", "set server.admin-token-file or AUTOAPPLY_SERVER_ADMIN_TOKEN"),
		)
	}

	noScheduler, _ := cmd.Flags().GetBool("no-scheduler")
	if !noScheduler {
		sched, err := scheduler.New(scheduler.Config{
			Sweep:    a.Config.Schedule.Sweep,
			Backfill: a.Config.Schedule.Backfill,
		}, a.Store, a, a.Backfiller, a.Metrics, logger)
		if err != nil {
			logger.Fatal("creating the scheduler", zap.Error(err))
		}
		if err := sched.Start(ctx); err != nil {
			logger.Fatal("starting the scheduler", zap.Error(err))
		}
		defer sched.Stop()
	}

	httpServer := &http.Server{
		Addr:              a.Config.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", httpServer.Addr))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
}
