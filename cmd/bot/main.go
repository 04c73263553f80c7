package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"dance-studio/internal/app"
	"dance-studio/internal/config"
	"dance-studio/internal/handlers"
	"dance-studio/internal/mediagroup"
	"dance-studio/internal/session"
	"dance-studio/internal/studio"
	"dance-studio/internal/telegram"
)

const (
	sessionIdle   = time.Hour
	evictInterval = 10 * time.Minute
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.RequireTelegram(); err != nil {
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

	tg, err := telegram.New(telegram.Options{
		Token:      cfg.TelegramToken,
		HTTPClient: deps.HTTPClient,
		Logger:     logger,
		Debug:      cfg.Debug,
	})
	if err != nil {
		logger.Error("telegram init failed", "err", err)
		os.Exit(1)
	}

	sessions := session.NewStore(session.Options{
		Factory: func(ctx context.Context, userID int64, progress studio.Observer) (*studio.Orchestrator, error) {
			st, err := deps.OpenState(ctx, fmt.Sprintf("tg-%d", userID))
			if err != nil {
				return nil, err
			}
			return deps.NewStudio(st, progress)
		},
	})

	handler := handlers.New(handlers.Options{
		Telegram: tg,
		Sessions: sessions,
		Logger:   logger,
	})

	sem := make(chan struct{}, cfg.MaxConcurrent)
	var inflight sync.WaitGroup

	// dispatch runs fn on its own goroutine once a slot is free.
	dispatch := func(fn func(ctx context.Context)) bool {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return false
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer func() { <-sem }()

			reqCtx, cancel := ctx, context.CancelFunc(func() {})
			if cfg.RequestTimeout > 0 {
				reqCtx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
			}
			defer cancel()

			fn(reqCtx)
		}()
		return true
	}

	aggregator := mediagroup.New(mediagroup.Options{
		Debounce: cfg.MediaGroupDebounce,
		OnFlush: func(album mediagroup.Album) {
			dispatch(func(ctx context.Context) { handler.HandleAlbum(ctx, album) })
		},
	})
	handler.SetMediaGroupAggregator(aggregator)

	logger.Info("bot started", "username", tg.Username(), "store", cfg.StoreDriver, "analyzer", cfg.Analyzer)

	updates := tg.Updates(telegram.UpdatesOptions{
		Timeout: 30 * time.Second,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case update, ok := <-updates:
				if !ok {
					logger.Info("updates channel closed")
					return nil
				}

				dispatched := dispatch(func(ctx context.Context) {
					if err := handler.HandleUpdate(ctx, update); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error("handle update failed", "err", err)
					}
				})
				if !dispatched {
					return nil
				}
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(evictInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := sessions.Evict(time.Now().Add(-sessionIdle)); n > 0 {
					logger.Info("idle sessions evicted", "count", n, "remaining", sessions.Len())
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("bot error", "err", err)
	}

	logger.Info("shutting down")
	tg.StopUpdates()
	aggregator.Close()
	inflight.Wait()

	deps.Webhooks.Wait()
}
