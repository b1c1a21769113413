package main

import (
	"context"
	"fmt"

	"github.com/stywzn/vuln-sentinel/internal/app"
	"github.com/stywzn/vuln-sentinel/internal/cli"
	"github.com/stywzn/vuln-sentinel/internal/server"
	"github.com/stywzn/vuln-sentinel/internal/worker"
	"github.com/stywzn/vuln-sentinel/pkg/logger"
	"github.com/stywzn/vuln-sentinel/pkg/mq"
)

func main() {
	cli.ExecuteService(cli.NewServiceCmd("scan-worker", "Run queued scan tasks", work))
}

func work(ctx context.Context, a *app.App) error {
	cfg, log := a.Config, a.Log

	queue, err := mq.Dial(cfg.RabbitMQ)
	if err != nil {
		return fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	defer queue.Close()

	deliveries, err := queue.Consume(cfg.Worker.Prefetch)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	health := server.NewHealthServer(log)
	go func() {
		if err := health.ListenAndServe(ctx, cfg.Worker.GRPCAddr); err != nil {
			log.Error("Health server stopped", logger.Error(err))
		}
	}()
	health.SetServing(true)

	pool := worker.NewPool(a.Coordinator, a.Store, cfg.Worker, log)
	pool.Run(ctx, deliveries)
	health.SetServing(false)
	return nil
}
