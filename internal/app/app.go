package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"dance-studio/internal/analysis"
	"dance-studio/internal/config"
	"dance-studio/internal/gemini"
	"dance-studio/internal/httpclient"
	"dance-studio/internal/kie"
	"dance-studio/internal/kvstore"
	"dance-studio/internal/metrics"
	"dance-studio/internal/state"
	"dance-studio/internal/studio"
	"dance-studio/internal/webhook"
)

// App holds the process-wide collaborators shared by every front end.
type App struct {
	Config     config.Config
	Logger     *slog.Logger
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	KV         kvstore.Store

	Images   *kie.ImageService
	Videos   *kie.VideoService
	Analyzer analysis.Analyzer
	// Vision is the direct Gemini analyzer, nil without GEMINI_API_KEY.
	Vision *analysis.Gemini
	// Webhooks delivers completed jobs for every studio built by NewStudio.
	Webhooks *webhook.Notifier

	closers []io.Closer
}

func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New("dance_studio"),
		HTTPClient: httpclient.New(httpclient.Options{
			PreferIPv4: cfg.PreferIPv4,
			Timeout:    cfg.HTTPTimeout,
		}),
	}

	a.Webhooks = webhook.New(webhook.Options{
		HTTPClient: a.HTTPClient,
		Logger:     logger,
	})

	kv, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.KV = kv

	client := kie.NewClient(kie.Options{
		BaseURL:    cfg.KieBaseURL,
		HTTPClient: a.HTTPClient,
		Logger:     logger,
		TripAfter:  uint32(cfg.KieTripAfter),
		Cooldown:   cfg.KieBreakerCooldown,
	})
	a.Images = kie.NewImageService(client, kie.ServiceOptions{
		PollInterval: cfg.PollInterval,
		PollTimeout:  cfg.ImagePollTimeout,
		Recorder:     a.Metrics,
	})
	a.Videos = kie.NewVideoService(client, kie.ServiceOptions{
		PollInterval: cfg.PollInterval,
		PollTimeout:  videoPollTimeout(cfg.VideoPollTimeout),
		Recorder:     a.Metrics,
	}, a.VideoDefaults())

	if cfg.GeminiAPIKey != "" {
		a.Vision = analysis.NewGemini(gemini.New(gemini.Options{
			APIKey:     cfg.GeminiAPIKey,
			BaseURL:    cfg.GeminiBaseURL,
			APIVersion: cfg.GeminiAPIVersion,
			Model:      cfg.GeminiModel,
			HTTPClient: a.HTTPClient,
			Logger:     logger,
		}))
	}

	switch cfg.Analyzer {
	case config.AnalyzerGemini:
		if a.Vision == nil {
			return nil, errors.New("app: gemini analyzer needs GEMINI_API_KEY")
		}
		a.Analyzer = a.Vision
	default:
		a.Analyzer = analysis.NewRemote(analysis.RemoteOptions{
			URL:        cfg.AnalyzeURL,
			APIKey:     cfg.AnalyzeAPIKey,
			HTTPClient: a.HTTPClient,
			Logger:     logger,
		})
	}

	return a, nil
}

// videoPollTimeout maps the config convention (0 = unbounded) onto the
// service convention (0 = model default, negative = unbounded).
func videoPollTimeout(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

func (a *App) openStore(ctx context.Context) (kvstore.Store, error) {
	switch a.Config.StoreDriver {
	case config.StoreMemory:
		return kvstore.NewMemory(), nil
	case config.StoreRedis:
		r, err := kvstore.NewRedis(ctx, kvstore.RedisOptions{
			Addr:     a.Config.RedisAddr,
			Password: a.Config.RedisPassword,
			DB:       a.Config.RedisDB,
			Prefix:   a.Config.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r)
		return r, nil
	default:
		f, err := kvstore.NewFile(a.Config.DataDir)
		if err != nil {
			return nil, fmt.Errorf("app: open data dir: %w", err)
		}
		return f, nil
	}
}

func (a *App) VideoDefaults() kie.VideoOptions {
	return kie.VideoOptions{
		Duration:   a.Config.VideoDuration,
		Resolution: a.Config.VideoResolution,
	}.WithDefaults()
}

// OpenState loads the state kept under namespace ("" for the root) and
// seeds the Kie credential from the environment when none is stored.
func (a *App) OpenState(ctx context.Context, namespace string) (*state.Store, error) {
	kv := a.KV
	if namespace != "" {
		kv = kvstore.Prefixed{Store: a.KV, Prefix: namespace + ":"}
	}
	st := state.New(state.Options{KV: kv, Logger: a.Logger})
	if err := st.Load(ctx); err != nil {
		return nil, err
	}

	keys := st.APIKeys()
	if keys.Kie == "" && a.Config.KieAPIKey != "" {
		seeded := keys
		seeded.Kie = a.Config.KieAPIKey
		if err := st.SetAPIKeys(ctx, seeded); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// NewStudio builds an orchestrator over st that reports to the metrics
// registry, the n8n webhook and any extra observers.
func (a *App) NewStudio(st *state.Store, extra ...studio.Observer) (*studio.Orchestrator, error) {
	observers := studio.Observers{studio.MetricsObserver(a.Metrics), a.Webhooks.For(st.APIKeys)}
	observers = append(observers, extra...)

	orch, err := studio.New(studio.Options{
		State:         st,
		Analyzer:      a.Analyzer,
		Images:        a.Images,
		Videos:        a.Videos,
		Observer:      observers,
		Logger:        a.Logger,
		ImageCount:    a.Config.ImageCount,
		VideoDefaults: a.VideoDefaults(),
		ArchiveFailed: a.Config.ArchiveFailedJobs,
	})
	if err != nil {
		return nil, err
	}
	return orch, nil
}

func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
