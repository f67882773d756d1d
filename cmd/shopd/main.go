// Command shopd serves the shop directory API and runs the event consumer
// that keeps the cache and the search index in sync with the store.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-shop-cache/config"
	"github.com/goliatone/go-shop-cache/pkg/di"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("shopd stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shopd stopped")
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer container.Close()

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      container.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("event consumer started", zap.String("backend", cfg.Events.Backend))
		if err := container.RunConsumer(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
