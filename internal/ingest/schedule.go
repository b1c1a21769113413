package ingest

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/stywzn/vuln-sentinel/pkg/logger"
)

// Schedule triggers a Runner on a cron expression.
type Schedule struct {
	cron *cron.Cron
	log  logger.Logger
}

// NewSchedule parses spec (standard five-field cron or a descriptor such as
// "@every 6h") and binds it to runner. It does not start the clock.
func NewSchedule(spec string, runner *Runner, log logger.Logger) (*Schedule, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		_, done := runner.Trigger(context.Background())
		res := <-done
		if res.Err != nil {
			log.Warn("Scheduled ingestion failed", logger.String("run_id", res.RunID), logger.Error(res.Err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("parse ingest schedule %q: %w", spec, err)
	}
	return &Schedule{cron: c, log: log}, nil
}

// Start begins firing in the background.
func (s *Schedule) Start() {
	s.cron.Start()
	s.log.Info("Ingest schedule started", logger.Int("entries", len(s.cron.Entries())))
}

// Stop halts the schedule and waits for a running job to return or ctx to end.
func (s *Schedule) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
