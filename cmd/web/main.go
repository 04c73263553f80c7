package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"dance-studio/internal/app"
	"dance-studio/internal/config"
	"dance-studio/internal/web"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := app.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("init failed", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	st, err := deps.OpenState(ctx, "")
	if err != nil {
		logger.Error("load state failed", "err", err)
		os.Exit(1)
	}

	orch, err := deps.NewStudio(st)
	if err != nil {
		logger.Error("studio init failed", "err", err)
		os.Exit(1)
	}

	opts := web.Options{
		Studio:     orch,
		Metrics:    deps.Metrics,
		Logger:     logger,
		RunTimeout: cfg.RequestTimeout,
	}
	if deps.Vision != nil {
		opts.Analyzer = deps.Vision
	}
	api, err := web.New(opts)
	if err != nil {
		logger.Error("web init failed", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       90 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("web started", "addr", cfg.WebAddr, "store", cfg.StoreDriver, "analyzer", cfg.Analyzer)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if runErr := api.Shutdown(shutdownCtx); runErr != nil {
			logger.Warn("background runs did not stop in time", "err", runErr)
		}
		deps.Webhooks.Wait()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
