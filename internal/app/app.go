// Package app builds the addon's long-lived services and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/einthusan-addon/internal/addon"
	"github.com/JakeFAU/einthusan-addon/internal/api"
	"github.com/JakeFAU/einthusan-addon/internal/cache"
	"github.com/JakeFAU/einthusan-addon/internal/catalog"
	"github.com/JakeFAU/einthusan-addon/internal/clock/system"
	"github.com/JakeFAU/einthusan-addon/internal/config"
	collyfetcher "github.com/JakeFAU/einthusan-addon/internal/fetcher/colly"
	"github.com/JakeFAU/einthusan-addon/internal/hash/sha256"
	"github.com/JakeFAU/einthusan-addon/internal/id/uuid"
	"github.com/JakeFAU/einthusan-addon/internal/logging"
	"github.com/JakeFAU/einthusan-addon/internal/policy/concurrency"
	"github.com/JakeFAU/einthusan-addon/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/einthusan-addon/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/einthusan-addon/internal/publisher/pubsub"
	"github.com/JakeFAU/einthusan-addon/internal/refresher"
	"github.com/JakeFAU/einthusan-addon/internal/resolver"
	"github.com/JakeFAU/einthusan-addon/internal/site"
	gcsstorage "github.com/JakeFAU/einthusan-addon/internal/storage/gcs"
	localstorage "github.com/JakeFAU/einthusan-addon/internal/storage/local"
	memorystorage "github.com/JakeFAU/einthusan-addon/internal/storage/memory"
	pgstore "github.com/JakeFAU/einthusan-addon/internal/storage/postgres"
	"github.com/JakeFAU/einthusan-addon/internal/stream"
	"github.com/JakeFAU/einthusan-addon/internal/telemetry"
	"github.com/JakeFAU/einthusan-addon/internal/upstream"
)

// memoryRunLimit bounds the in-memory refresh run log.
const memoryRunLimit = 500

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	cache           *cache.Cache
	site            *site.Site
	resolver        *resolver.Resolver
	streams         *stream.Extractor
	refresher       *refresher.Refresher
	service         *addon.Service
	apiServer       *api.Server
	runs            catalog.RunStore
	publisher       catalog.Publisher
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	pgRuns          *pgstore.RunStore
	tracer          *sdktrace.TracerProvider
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Compress:    cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Strings("languages", cfg.Site.Languages),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	if cfg.Telemetry.Enabled {
		app.tracer, err = telemetry.Init(ctx, telemetry.Options{
			ServiceName: cfg.Telemetry.ServiceName,
			Version:     api.Version,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
	}

	if err = app.build(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	blobs, err := setupStorage(ctx, a)
	if err != nil {
		return err
	}
	if err = setupDatabase(ctx, a); err != nil {
		return err
	}
	if err = setupPublisher(ctx, a); err != nil {
		return err
	}
	if a.cache, err = setupCache(ctx, a); err != nil {
		return err
	}

	client, err := setupUpstream(a)
	if err != nil {
		return err
	}

	a.site, err = site.New(site.Config{
		Languages: cfg.Site.Languages,
		SearchTTL: cfg.Cache.SearchTTL,
		DetailTTL: cfg.Cache.DetailTTL,
	}, client, a.cache, site.NewArchive(blobs, sha256.New()), a.logger.Named("site"))
	if err != nil {
		return fmt.Errorf("site init failed: %w", err)
	}

	a.resolver, err = setupResolver(a, client)
	if err != nil {
		return err
	}

	a.streams, err = stream.New(stream.Config{
		CanonicalHost: cfg.Stream.CanonicalHost,
		Name:          cfg.Stream.Name,
		TTL:           cfg.Cache.StreamTTL,
	}, a.site, a.cache, a.logger.Named("stream"))
	if err != nil {
		return fmt.Errorf("stream extractor init failed: %w", err)
	}

	a.refresher, err = refresher.New(refresher.Config{
		Pages:               cfg.Refresh.Pages,
		IncrementalPages:    cfg.Refresh.IncrementalPages,
		PageConcurrency:     cfg.Refresh.PageConcurrency,
		FullInterval:        cfg.Refresh.FullInterval,
		IncrementalInterval: cfg.Refresh.IncrementalInterval,
		CatalogTTL:          cfg.Cache.CatalogTTL,
		OnStart:             cfg.Refresh.OnStart,
		ReverseLookup:       cfg.Resolver.ReverseLookup,
		Topic:               cfg.PubSub.TopicName,
	}, refresher.Deps{
		Pages:     a.site,
		Upgrader:  a.resolver,
		Runs:      a.runs,
		Publisher: a.publisher,
		Clock:     system.New(),
		IDs:       uuid.New(),
	}, a.logger.Named("refresher"))
	if err != nil {
		return fmt.Errorf("refresher init failed: %w", err)
	}

	a.service, err = addon.New(addon.Config{ReverseLookup: cfg.Resolver.ReverseLookup},
		a.site, a.refresher, a.resolver, a.streams, a.logger.Named("addon"))
	if err != nil {
		return fmt.Errorf("addon service init failed: %w", err)
	}

	var ready api.Readiness
	if cfg.Refresh.Enabled {
		ready = a.refresher
	}
	a.apiServer = api.NewServer(a.service, ready, uuid.New(), *cfg, a.logger.Named("api"))
	return nil
}

func setupStorage(ctx context.Context, app *App) (catalog.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: app.cfg.Storage.GCSBucket,
			Prefix: app.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case "local":
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.LocalRoot))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalRoot})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.DB.Backend != "postgres" {
		app.logger.Info("using in-memory refresh run log")
		app.runs = memorystorage.NewRunStore(memoryRunLimit)
		return nil
	}
	runs, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:      app.cfg.DB.DSN,
		MaxConns: int32(app.cfg.DB.MaxOpenConns),
		MinConns: int32(app.cfg.DB.MaxIdleConns),
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	app.pgRuns = runs
	app.runs = runs
	app.logger.Info("postgres refresh run log initialized")
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.PubSub.Backend != "pubsub" {
		app.logger.Info("using in-memory refresh event publisher")
		app.publisher = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = gcppublisher.New(client.Publisher(app.cfg.PubSub.TopicName))
	app.publisher = app.pubsubPublisher
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return nil
}

func setupCache(ctx context.Context, app *App) (*cache.Cache, error) {
	codec, err := cache.NewCodec(app.cfg.Cache.Codec)
	if err != nil {
		return nil, fmt.Errorf("cache codec init failed: %w", err)
	}
	var store cache.Store
	switch app.cfg.Cache.Backend {
	case "redis":
		redisCfg := app.cfg.Cache.Redis
		store, err = cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:      redisCfg.Addr,
			Password:  redisCfg.Password,
			DB:        redisCfg.DB,
			KeyPrefix: redisCfg.KeyPrefix,
		}, app.logger.Named("cache"))
		if err != nil {
			return nil, fmt.Errorf("redis cache init failed: %w", err)
		}
		app.logger.Info("using redis cache backend", zap.String("addr", redisCfg.Addr))
	default:
		store = cache.NewMemoryStore(cache.MemoryConfig{
			MaxKeys:       app.cfg.Cache.MaxKeys,
			SweepInterval: app.cfg.Cache.SweepInterval,
		})
		app.logger.Info("using in-memory cache backend", zap.Int("max_keys", app.cfg.Cache.MaxKeys))
	}
	return cache.New(store, codec, app.cfg.Cache.DefaultTTL, app.logger.Named("cache")), nil
}

func setupUpstream(app *App) (*upstream.Client, error) {
	httpCfg := app.cfg.HTTP
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     httpCfg.UserAgent,
		RespectRobots: httpCfg.RespectRobots,
		Timeout:       httpCfg.Timeout,
	})
	polite := ratelimit.New(ratelimit.Config{
		DefaultRPS:   httpCfg.PerHostRPS,
		DefaultBurst: httpCfg.PerHostBurst,
	})
	client, err := upstream.New(upstream.Config{
		BaseURL: app.cfg.Site.BaseURL,
		Retry: upstream.RetryPolicy{
			MaxAttempts:      httpCfg.MaxAttempts,
			BackoffStep:      httpCfg.BackoffStep,
			BackoffMax:       httpCfg.BackoffMax,
			RateLimitDelay:   httpCfg.RateLimitDelay,
			RateLimitRetries: httpCfg.RateLimitRetries,
		},
	}, fetcher, concurrency.New(httpCfg.Concurrency), polite, app.logger.Named("upstream"))
	if err != nil {
		return nil, fmt.Errorf("upstream client init failed: %w", err)
	}
	app.logger.Info("upstream client initialized",
		zap.String("base_url", app.cfg.Site.BaseURL),
		zap.Int("concurrency", httpCfg.Concurrency),
		zap.Float64("per_host_rps", httpCfg.PerHostRPS),
	)
	return client, nil
}

func setupResolver(app *App, client *upstream.Client) (*resolver.Resolver, error) {
	rc := app.cfg.Resolver
	suggestions := resolver.NewSuggestionProvider(rc.SuggestionURL, client)
	providers := []resolver.TitleProvider{
		suggestions,
		resolver.NewCinemetaProvider(rc.CinemetaURL, client),
		resolver.NewScrapeProvider(rc.TitlePageURL, client),
	}
	res, err := resolver.New(resolver.Config{
		ProviderTimeout: rc.ProviderTimeout,
		XrefTTL:         app.cfg.Cache.XrefTTL,
		SkipVerify:      rc.SkipVerify,
	}, providers, suggestions, app.site, app.cache, app.logger.Named("resolver"))
	if err != nil {
		return nil, fmt.Errorf("resolver init failed: %w", err)
	}
	return res, nil
}

// Service exposes the addon service.
func (a *App) Service() *addon.Service { return a.service }

// Refresher exposes the catalog refresher.
func (a *App) Refresher() *refresher.Refresher { return a.refresher }

// Handler exposes the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Logger exposes the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Run serves HTTP and the refresh schedule until ctx is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Refresh.Enabled {
		a.refresher.Start(ctx)
		a.logger.Info("refresher started",
			zap.Duration("full_interval", a.cfg.Refresh.FullInterval),
			zap.Duration("incremental_interval", a.cfg.Refresh.IncrementalInterval),
		)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.refresher.Stop(shutdownCtx); err != nil {
		a.logger.Warn("refresher stop failed", zap.Error(err))
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close gracefully releases every client the app opened.
func (a *App) Close(ctx context.Context) error {
	if a.refresher != nil {
		if err := a.refresher.Stop(ctx); err != nil {
			a.logger.Warn("refresher stop failed", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(_ context.Context) {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgRuns != nil {
		a.pgRuns.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
