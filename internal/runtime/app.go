package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/aaronlee0321/unified-rag/config"
	"github.com/aaronlee0321/unified-rag/internal/dictionary"
	"github.com/aaronlee0321/unified-rag/internal/lock"
	"github.com/aaronlee0321/unified-rag/internal/store"
	"github.com/aaronlee0321/unified-rag/provider"
)

// The Redis lock cancels rebuilds whose lease lapses.
var _ dictionary.LeaseLocker = (*lock.Redis)(nil)

// Version is reported in telemetry resources.
var Version = "dev"

// App bundles the wired dependencies shared by the CLI and the HTTP server.
type App struct {
	Config    *config.Config
	Store     *store.Store
	Builder   *dictionary.Builder
	Catalog   *dictionary.Catalog
	Registry  *prometheus.Registry
	Telemetry *Telemetry
	Redis     *redis.Client
	Logger    *log.Logger
}

// OpenStore connects to Postgres using the configured DSN. With no url or
// host configured it falls back to DATABASE_URL and the POSTGRES_* variables.
func OpenStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	connectCtx := ctx
	if t := cfg.Storage.Postgres.Timeout; t > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	if p := cfg.Storage.Postgres; p.URL == "" && p.Host == "" {
		return store.New(connectCtx)
	}
	dsn, err := BuildPostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	return store.NewWithDSN(connectCtx, dsn)
}

// NewReadOnlyApp wires the store and catalog only. It needs no model access.
func NewReadOnlyApp(ctx context.Context, cfg *config.Config) (*App, error) {
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &App{
		Config:  cfg,
		Store:   st,
		Catalog: dictionary.NewCatalog(st),
		Logger:  log.New(log.Writer(), "[APP] ", log.LstdFlags),
	}, nil
}

// NewApp wires the store, model provider, lock, metrics, tracing and the
// rebuild builder from cfg.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app, err := NewReadOnlyApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close(context.Background())
		}
	}()

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := dictionary.NewMetrics(app.Registry)

	tele, tracer, err := SetupTelemetry(ctx, cfg.Telemetry, Version)
	if err != nil {
		return nil, err
	}
	app.Telemetry = tele

	locker, err := app.buildLocker(ctx)
	if err != nil {
		return nil, err
	}

	dictLogger := log.New(log.Writer(), "[DICTIONARY] ", log.LstdFlags)
	extractor := dictionary.NewExtractor(llm, dictionary.ExtractorOptions{
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.Dictionary.ExtractTimeout,
		Logger:      dictLogger,
		Metrics:     metrics,
	})
	builder, err := dictionary.NewBuilder(app.Store, extractor, app.Store, dictionary.BuilderOptions{
		Workers:            cfg.Dictionary.Workers,
		ReferenceBatchSize: cfg.Dictionary.ReferenceBatchSize,
		StoreTimeout:       cfg.Dictionary.StoreTimeout,
		KeyFunc:            dictionary.KeyFuncForMode(cfg.Dictionary.KeyMode),
		Locker:             locker,
		Logger:             dictLogger,
		Metrics:            metrics,
		Tracer:             tracer,
	})
	if err != nil {
		return nil, err
	}
	app.Builder = builder
	ok = true
	return app, nil
}

func (a *App) buildLocker(ctx context.Context) (dictionary.Locker, error) {
	d := a.Config.Dictionary
	switch d.LockBackend {
	case config.LockBackendRedis:
		r := a.Config.Storage.Redis
		client, err := lock.Conn(ctx, r.Host, r.Port, r.Password, r.DB, r.Timeout)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.Redis = client
		a.Logger.Printf("using redis lock at %s:%s", r.Host, r.Port)
		return lock.NewRedis(client, d.LockTTL), nil
	default:
		return lock.NewLocal(), nil
	}
}

// Close releases every opened resource.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Telemetry != nil {
		errs = append(errs, a.Telemetry.Shutdown(ctx))
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
