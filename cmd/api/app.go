package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/panotour/internal/api"
	"github.com/onnwee/panotour/internal/config"
	"github.com/onnwee/panotour/internal/db"
	"github.com/onnwee/panotour/internal/editor"
	"github.com/onnwee/panotour/internal/health"
	"github.com/onnwee/panotour/internal/idempotency"
	"github.com/onnwee/panotour/internal/image"
	"github.com/onnwee/panotour/internal/jobs"
	"github.com/onnwee/panotour/internal/loader"
	"github.com/onnwee/panotour/internal/middleware"
	"github.com/onnwee/panotour/internal/persist"
	"github.com/onnwee/panotour/internal/render"
	"github.com/onnwee/panotour/internal/scene"
	"github.com/onnwee/panotour/internal/session"
	"github.com/onnwee/panotour/internal/tracing"
	"github.com/onnwee/panotour/internal/upload"
)

const (
	sessionSweepInterval   = 5 * time.Minute
	sessionIdleTimeout     = 30 * time.Minute
	rateLimitSweepInterval = time.Minute
	idempotencySweep       = time.Hour
)

// app holds the wired server and everything that must be released on exit.
type app struct {
	handler  http.Handler
	manager  *session.Manager
	limiter  *middleware.InMemoryRateLimitStore
	replays  *idempotency.InMemoryRepository
	runner   *jobs.Runner
	sessionT time.Duration
	closers  []func(context.Context) error
}

// newApp builds the API from cfg. On error everything opened so far is closed.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{sessionT: time.Duration(cfg.SessionTTLHours) * time.Hour}
	defer func() {
		if err != nil {
			a.close(context.Background(), logger)
		}
	}()

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    api.ServiceName,
		ServiceVersion: api.Version,
		Environment:    cfg.Env,
		Exporter:       cfg.TracingExporter,
		Endpoint:       cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSamplingRate,
		Insecure:       !cfg.IsProduction(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.closers = append(a.closers, tp.Shutdown)

	store, sqlDB, err := db.Open(ctx, db.OptionsFromConfig(cfg), logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := middleware.NewMetrics()
	loadMetrics := loader.NewMetrics()
	persistMetrics := persist.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	for _, r := range []interface {
		Register(prometheus.Registerer) error
	}{httpMetrics, loadMetrics, persistMetrics, jobMetrics} {
		if err := r.Register(reg); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	a.runner = jobs.NewRunner(jobMetrics, logger)

	healthCfg := api.HealthHandlersConfig{MetricsEnabled: true}
	if sqlDB != nil {
		healthCfg.DBChecker = health.NewDBChecker(sqlDB)
	}

	var states session.StateStore = session.NewMemoryStateStore(a.sessionT)
	var limits middleware.RateLimitStore
	var replays idempotency.Repository
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		states = session.NewRedisStateStore(client, a.sessionT)
		limits = middleware.NewRedisRateLimitStore(client).WithMetrics(httpMetrics)
		replays = idempotency.NewRedisRepository(client, idempotency.DefaultExpiry)
		healthCfg.RedisChecker = health.NewRedisChecker(client)
		logger.Info("using redis for session state and rate limits")
	} else {
		a.limiter = middleware.NewInMemoryRateLimitStore()
		limits = a.limiter
		a.replays = idempotency.NewInMemoryRepository()
		replays = a.replays
	}

	var uploader api.Uploader
	if cfg.R2Enabled() {
		processorCfg := image.DefaultConfig()
		processorCfg.MaxWidth = cfg.ImageMaxWidth
		svc, err := upload.NewService(upload.ServiceConfig{
			BucketName:      cfg.R2BucketName,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			Endpoint:        cfg.R2Endpoint,
			PublicBaseURL:   cfg.BlobPublicBaseURL,
			MaxSizeMB:       cfg.R2MaxUploadSizeMB,
		}, image.NewProcessor(processorCfg))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize upload service: %w", err)
		}
		uploader = svc
		healthCfg.StorageChecker = svc
	}

	policy, err := editor.ParseReselectPolicy(cfg.ReselectPolicy)
	if err != nil {
		return nil, err
	}

	repo := scene.NewRepository(store, logger)
	hub := render.NewHub(logger)
	tokens := session.NewTokenServiceWithRotation(cfg.SessionSecret, cfg.SessionSecretPrevious, a.sessionT)
	a.manager = session.NewManager(tokens, states, session.Deps{
		Catalog:     repo,
		Adapter:     persist.New(repo, nil, persist.WithMetrics(persistMetrics), persist.WithLogger(logger)),
		Metrics:     loadMetrics,
		Placeholder: cfg.PlaceholderImageURL,
		Policy:      policy,
		Logger:      logger,
	}, hub)

	binder := api.NewSessionBinder(a.manager, a.sessionT, cfg.IsProduction())
	a.handler = api.NewRouter(api.RouterConfig{
		Tour:           api.NewTourHandlers(binder, repo, hub, cfg.CORSAllowedOrigins),
		Uploads:        api.NewUploadHandlers(uploader, binder),
		Health:         api.NewHealthHandlers(healthCfg),
		Logger:         logger,
		Metrics:        httpMetrics,
		Gatherer:       reg,
		RateLimitStore: limits,
		GlobalLimit:    middleware.DefaultGlobalLimit(),
		WriteLimit:     middleware.DefaultWriteLimit(),
		UploadLimit:    middleware.DefaultUploadLimit(),
		Idempotency:    replays,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		TracingEnabled: tp.Enabled(),
	})
	return a, nil
}

// runBackground starts the sweeper evicting idle sessions from memory (their
// state stays in the state store) and, without Redis, the rate limit and
// idempotency cleanups. All stop when ctx is cancelled.
func (a *app) runBackground(ctx context.Context) {
	go a.runner.Every(ctx, jobs.JobTypeSessionSweep, sessionSweepInterval, func(context.Context) (int, error) {
		return a.manager.Sweep(sessionIdleTimeout), nil
	})
	if a.limiter != nil {
		go a.runner.Every(ctx, jobs.JobTypeRateLimitCleanup, rateLimitSweepInterval, func(context.Context) (int, error) {
			return a.limiter.Cleanup(), nil
		})
	}
	if a.replays != nil {
		go a.runner.Every(ctx, jobs.JobTypeIdempotencyCleanup, idempotencySweep, func(ctx context.Context) (int, error) {
			n, err := idempotency.CleanupOldKeys(ctx, a.replays, idempotency.DefaultExpiry)
			return int(n), err
		})
	}
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context, logger *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.Error("failed to release resource", "error", err)
		}
	}
	a.closers = nil
}
