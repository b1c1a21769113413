// Package worker drains queued scan tasks with a fixed number of goroutines.
package worker

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/stywzn/vuln-sentinel/internal/config"
	"github.com/stywzn/vuln-sentinel/internal/coordinator"
	"github.com/stywzn/vuln-sentinel/internal/model"
	"github.com/stywzn/vuln-sentinel/pkg/logger"
	"github.com/stywzn/vuln-sentinel/pkg/mq"
)

// Scanner runs one scan.
type Scanner interface {
	RunScan(ctx context.Context, target string) (*coordinator.ScanOutcome, error)
}

// TaskStore is the persistence the workers need.
type TaskStore interface {
	UpdateTask(ctx context.Context, id uint, updates map[string]any) error
	SaveFeatures(ctx context.Context, features []model.ExtractedFeature) error
}

// Pool fans deliveries out to a fixed set of workers. A slow scan holds only
// its own worker; polling waits park the goroutine.
type Pool struct {
	scanner Scanner
	store   TaskStore
	workers int
	log     logger.Logger
}

// NewPool sizes the pool from cfg.Count, with a minimum of one worker.
func NewPool(s Scanner, ts TaskStore, cfg config.WorkerConfig, log logger.Logger) *Pool {
	return &Pool{
		scanner: s,
		store:   ts,
		workers: max(cfg.Count, 1),
		log:     log,
	}
}

// Run processes deliveries until the channel closes or ctx ends, then waits
// for in-flight scans to finish. Deliveries taken after ctx ends go back to
// the queue.
func (p *Pool) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	jobs := make(chan amqp.Delivery, p.workers)

	var wg sync.WaitGroup
	for id := 1; id <= p.workers; id++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx, id, jobs)
		}()
	}
	p.log.Info("Worker pool started", logger.Int("workers", p.workers))

dispatch:
	for {
		select {
		case <-ctx.Done():
			break dispatch
		case d, ok := <-deliveries:
			if !ok {
				break dispatch
			}
			select {
			case jobs <- d:
			case <-ctx.Done():
				p.requeue(p.log, d)
				break dispatch
			}
		}
	}
	close(jobs)
	wg.Wait()
	p.log.Info("Worker pool stopped")
}

func (p *Pool) work(ctx context.Context, id int, jobs <-chan amqp.Delivery) {
	log := p.log.With(logger.Int("worker", id))
	for d := range jobs {
		p.handle(ctx, log, d)
	}
}

func (p *Pool) handle(ctx context.Context, log logger.Logger, d amqp.Delivery) {
	if ctx.Err() != nil {
		p.requeue(log, d)
		return
	}

	msg, err := mq.Decode(d.Body)
	if err != nil {
		log.Warn("Dropping undecodable scan message", logger.Error(err))
		_ = d.Reject(false)
		return
	}
	log = log.With(logger.Int("task_id", int(msg.TaskID)), logger.String("target_url", msg.Target))

	if err := p.store.UpdateTask(ctx, msg.TaskID, map[string]any{"status": model.TaskRunning}); err != nil {
		if ctx.Err() != nil {
			p.requeue(log, d)
			return
		}
		log.Error("Marking task running failed", logger.Error(err))
		_ = d.Reject(false)
		return
	}

	out, err := p.scanner.RunScan(logger.WithContext(ctx, log), msg.Target)
	persistCtx := context.WithoutCancel(ctx)
	if err != nil && interrupted(ctx, err) {
		log.Warn("Scan interrupted by shutdown", logger.Error(err))
		if uerr := p.store.UpdateTask(persistCtx, msg.TaskID, map[string]any{"status": model.TaskPending}); uerr != nil {
			log.Error("Resetting task to pending failed", logger.Error(uerr))
		}
		p.requeue(log, d)
		return
	}

	updates := p.record(persistCtx, log, out, err)
	if err := p.store.UpdateTask(persistCtx, msg.TaskID, updates); err != nil {
		log.Error("Recording task result failed", logger.Error(err))
	}
	_ = d.Ack(false)
}

func (p *Pool) requeue(log logger.Logger, d amqp.Delivery) {
	if err := d.Nack(false, true); err != nil {
		log.Error("Requeueing scan message failed", logger.Error(err))
		return
	}
	log.Info("Scan message requeued", logger.Int("delivery_tag", int(d.DeliveryTag)))
}

// interrupted reports whether err came from the pool's own shutdown rather
// than from the scan.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

// record stores the scan's features and returns the final task columns.
func (p *Pool) record(ctx context.Context, log logger.Logger, out *coordinator.ScanOutcome, scanErr error) map[string]any {
	if scanErr != nil {
		log.Warn("Scan failed", logger.Error(scanErr))
		return map[string]any{"status": model.TaskFailed, "error": scanErr.Error()}
	}

	updates := map[string]any{
		"job_id":       out.JobID,
		"poller_state": string(out.PollerState),
	}
	if err := p.store.SaveFeatures(ctx, out.Features); err != nil {
		log.Error("Saving features failed", logger.Error(err))
		updates["status"] = model.TaskFailed
		updates["error"] = err.Error()
		return updates
	}

	updates["status"] = model.TaskFinished
	updates["feature_count"] = len(out.Features)
	log.Info("Task finished",
		logger.String("job_id", out.JobID),
		logger.String("poller_state", string(out.PollerState)),
		logger.Int("features", len(out.Features)),
	)
	return updates
}
