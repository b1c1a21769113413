package main

import (
	"context"

	"github.com/stywzn/vuln-sentinel/internal/app"
	"github.com/stywzn/vuln-sentinel/internal/cli"
	"github.com/stywzn/vuln-sentinel/internal/ingest"
	"github.com/stywzn/vuln-sentinel/internal/server"
	"github.com/stywzn/vuln-sentinel/pkg/logger"
	"github.com/stywzn/vuln-sentinel/pkg/mq"
)

func main() {
	cli.ExecuteService(cli.NewServiceCmd("api-server", "Serve the scan and feed HTTP API", serve))
}

func serve(ctx context.Context, a *app.App) error {
	cfg, log := a.Config, a.Log

	deps := server.Deps{
		Scanner:   a.Coordinator,
		Engine:    a.Engine,
		Store:     a.Store,
		Ingestion: a.Runner,
		Metrics:   a.Metrics.Handler(),
		Log:       log,
	}
	if a.Sessions != nil {
		deps.Sessions = a.Sessions
	}

	queue, err := mq.Dial(cfg.RabbitMQ)
	if err != nil {
		log.Warn("Task queue disabled", logger.Error(err))
	} else {
		defer queue.Close()
		deps.Publisher = queue
	}

	if cfg.Ingest.Schedule != "" {
		sched, err := ingest.NewSchedule(cfg.Ingest.Schedule, a.Runner, log)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop(context.Background())
	}

	return server.NewHttpServer(cfg.Server, deps).Start(ctx)
}
