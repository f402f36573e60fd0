package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"careerline/internal/config"
	"careerline/internal/db"
	"careerline/internal/engine"
	"careerline/internal/metrics"
	"careerline/internal/migrate"
	"careerline/internal/provider"
)

// Options configures Open.
type Options struct {
	Workspace string
	Logger    *zap.Logger
	// Registerer receives the pipeline metrics; nil uses a private registry.
	Registerer prometheus.Registerer
	// Getenv resolves secrets named in the config; defaults to os.Getenv.
	Getenv func(string) string
}

// App is an opened workspace: database, config and a ready engine.
type App struct {
	DB      *sql.DB
	Config  *config.Config
	Metrics *metrics.Metrics
	Engine  engine.Engine
	Logger  *zap.Logger
}

// Open prepares the workspace, migrates the database and builds the engine.
// A missing careerline.yml falls back to defaults.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p, err := BuildProvider(ctx, cfg, getenv, logger, m)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e := engine.New(conn, cfg)
	e.Provider = p
	e.Logger = logger
	e.Metrics = m
	logger.Debug("workspace opened",
		zap.String("db", db.Path(opts.Workspace)),
		zap.Int("schema_version", version),
		zap.String("provider", cfg.Provider.Kind))
	return &App{DB: conn, Config: cfg, Metrics: m, Engine: e, Logger: logger}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// BuildProvider returns the configured text provider wrapped with the
// response cache and metrics. It returns nil when no provider is configured
// or its API key is unset; the pipeline then runs on local fallbacks.
func BuildProvider(ctx context.Context, cfg *config.Config, getenv func(string) string, logger *zap.Logger, m *metrics.Metrics) (provider.Provider, error) {
	if cfg.Provider.Kind != config.ProviderGemini {
		return nil, nil
	}
	key := getenv(cfg.Provider.APIKeyEnv)
	if key == "" {
		logger.Warn("provider api key not set; using local fallbacks",
			zap.String("provider", cfg.Provider.Kind),
			zap.String("env", cfg.Provider.APIKeyEnv))
		return nil, nil
	}
	g, err := provider.NewGemini(ctx, key, cfg.Provider.Model)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", cfg.Provider.Kind, err)
	}
	cached, err := provider.WithCache(g, cfg.Provider.CacheSize)
	if err != nil {
		return nil, err
	}
	return provider.WithObserver(cached, func(op string, took time.Duration, err error) {
		m.ProviderCall(op, err)
		m.ObserveStage("provider_"+op, took)
		if err != nil {
			logger.Debug("provider call failed", zap.String("operation", op), zap.Duration("took", took), zap.Error(err))
		}
	}), nil
}
