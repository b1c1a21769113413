// Package server is the HTTP front door and the worker's gRPC health endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stywzn/vuln-sentinel/internal/config"
	"github.com/stywzn/vuln-sentinel/internal/coordinator"
	"github.com/stywzn/vuln-sentinel/internal/engine"
	"github.com/stywzn/vuln-sentinel/internal/ingest"
	"github.com/stywzn/vuln-sentinel/internal/model"
	"github.com/stywzn/vuln-sentinel/pkg/logger"
	"github.com/stywzn/vuln-sentinel/pkg/mq"
)

// Scanner runs one scan synchronously.
type Scanner interface {
	RunScan(ctx context.Context, target string) (*coordinator.ScanOutcome, error)
}

// Engine is used for the report passthrough and the health probe.
type Engine interface {
	CheckReachable(ctx context.Context) bool
	FetchFindings(ctx context.Context, target string) ([]engine.RawAlert, error)
}

// Repository is the store surface the handlers read and write.
type Repository interface {
	SaveFeatures(ctx context.Context, features []model.ExtractedFeature) error
	ListVulnerabilities(ctx context.Context) ([]model.Vulnerability, error)
	ListFeatures(ctx context.Context, target string) ([]model.ExtractedFeature, error)
	CreateTask(ctx context.Context, task *model.ScanTask) error
	GetTask(ctx context.Context, id uint) (*model.ScanTask, error)
	Ping(ctx context.Context) error
}

// Sessions reads mirrored scan sessions.
type Sessions interface {
	Get(ctx context.Context, jobID string) (coordinator.Session, error)
}

// Ingestion starts feed ingestion and reports the last run.
type Ingestion interface {
	Trigger(ctx context.Context) (string, <-chan ingest.RunResult)
	Last() (ingest.RunResult, bool)
}

// Publisher enqueues scan tasks for the worker.
type Publisher interface {
	Publish(ctx context.Context, msg mq.ScanMessage) error
}

// Deps wires the handlers. Sessions and Publisher may be nil; their routes
// then answer 503.
type Deps struct {
	Scanner   Scanner
	Engine    Engine
	Store     Repository
	Sessions  Sessions
	Ingestion Ingestion
	Publisher Publisher
	Metrics   http.Handler
	Log       logger.Logger
}

const shutdownTimeout = 15 * time.Second

type HttpServer struct {
	deps Deps
	cfg  config.ServerConfig
	srv  *http.Server
}

func NewHttpServer(cfg config.ServerConfig, deps Deps) *HttpServer {
	h := &HttpServer{deps: deps, cfg: cfg}
	h.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      h.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return h
}

// Router builds the gin engine with every route registered.
func (h *HttpServer) Router() *gin.Engine {
	if !h.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(RequestIDMiddleware(h.deps.Log), LoggerMiddleware(h.deps.Log), RecoveryMiddleware(h.deps.Log))

	r.GET("/health", h.health)
	if h.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.deps.Metrics))
	}

	r.POST("/scan/start", h.startScan)
	r.GET("/scan/list", h.listScans)
	r.GET("/scan/:scan_id/report/json", h.scanReport)
	r.GET("/scan/:scan_id/status", h.scanStatus)
	r.GET("/vulnerabilities", h.listVulnerabilities)
	r.GET("/features", h.listFeatures)

	r.POST("/fetch_nvd", h.fetchNVD)
	r.GET("/ingest/last", h.lastIngest)

	api := r.Group("/api")
	api.POST("/scan", h.submitTask)
	api.GET("/task", h.getTask)

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (h *HttpServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		h.deps.Log.Info("HTTP server listening", logger.String("addr", h.cfg.Addr))
		if err := h.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	h.deps.Log.Info("HTTP server shutting down")
	return h.srv.Shutdown(shutdownCtx)
}
