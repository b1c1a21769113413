// Package app assembles the sentinel components from configuration. Every
// binary builds one App and tears it down with Close.
package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/stywzn/vuln-sentinel/internal/config"
	"github.com/stywzn/vuln-sentinel/internal/coordinator"
	"github.com/stywzn/vuln-sentinel/internal/engine"
	"github.com/stywzn/vuln-sentinel/internal/ingest"
	"github.com/stywzn/vuln-sentinel/internal/metrics"
	"github.com/stywzn/vuln-sentinel/internal/session"
	"github.com/stywzn/vuln-sentinel/internal/store"
	"github.com/stywzn/vuln-sentinel/pkg/db"
	"github.com/stywzn/vuln-sentinel/pkg/logger"
)

// App holds the shared components.
type App struct {
	Config      *config.Config
	Log         logger.Logger
	DB          *gorm.DB
	Store       *store.Store
	Engine      *engine.Client
	Metrics     *metrics.Metrics
	Coordinator *coordinator.Coordinator
	Ingestor    *ingest.Ingestor
	Runner      *ingest.Runner
	// Sessions is nil when Redis is not configured or not reachable.
	Sessions *session.Tracker

	redis *redis.Client
}

// New connects to the database (running migrations), and to Redis when
// configured. A Redis failure only disables the session mirror.
func New(cfg *config.Config, log logger.Logger) (*App, error) {
	gdb, err := db.OpenAndMigrate(cfg.Database)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	a := &App{
		Config:  cfg,
		Log:     log,
		DB:      gdb,
		Store:   store.New(gdb),
		Metrics: m,
	}
	a.Engine = engine.NewClient(cfg.Engine, cfg.Feed, engine.WithObserver(m.ObserveEngine))

	opts := []coordinator.Option{coordinator.WithMetrics(m)}
	if cfg.Redis.Addr != "" {
		client, err := session.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Session mirror disabled", logger.String("redis_addr", cfg.Redis.Addr), logger.Error(err))
		} else {
			a.redis = client
			a.Sessions = session.NewTracker(client, cfg.Redis.SessionTTL)
			opts = append(opts, coordinator.WithTracker(a.Sessions))
		}
	}

	a.Coordinator = coordinator.New(a.Engine, cfg.Poller, log.With(logger.String("component", "coordinator")), opts...)
	a.Ingestor = ingest.NewIngestor(a.Store, log.With(logger.String("component", "ingest")))
	a.Runner = ingest.NewRunner(a.Engine, a.Ingestor, m, cfg.Ingest.RunTimeout, log.With(logger.String("component", "ingest")))
	return a, nil
}

// Close releases connections.
func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	db.Close(a.DB)
	_ = a.Log.Sync()
}
