package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stywzn/vuln-sentinel/internal/engine"
	"github.com/stywzn/vuln-sentinel/internal/metrics"
	"github.com/stywzn/vuln-sentinel/pkg/logger"
)

// FeedFetcher fetches one page of the feed.
type FeedFetcher interface {
	FetchFeedPage(ctx context.Context) ([]engine.RawFeedRecord, error)
}

// RunResult is the outcome of one background fetch and ingest.
type RunResult struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Report     Report    `json:"report"`
	Err        error     `json:"-"`
	Error      string    `json:"error,omitempty"`
}

// Runner runs fetch and ingest on its own goroutine per trigger and remembers
// the last finished run.
type Runner struct {
	fetcher  FeedFetcher
	ingestor *Ingestor
	log      logger.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration

	mu   sync.RWMutex
	last *RunResult
}

// NewRunner bounds each run by timeout; zero means no bound beyond ctx.
func NewRunner(f FeedFetcher, ing *Ingestor, m *metrics.Metrics, timeout time.Duration, log logger.Logger) *Runner {
	return &Runner{
		fetcher:  f,
		ingestor: ing,
		log:      log,
		metrics:  m,
		timeout:  timeout,
	}
}

// Trigger starts a run and returns its id and a channel that receives exactly
// one RunResult. The run outlives ctx's cancellation but keeps its values, so
// a finished HTTP request does not abort ingestion. Callers may ignore the
// channel; it is buffered.
func (r *Runner) Trigger(ctx context.Context) (string, <-chan RunResult) {
	runID := uuid.NewString()
	done := make(chan RunResult, 1)

	runCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc = func() {}
	if r.timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, r.timeout)
	}

	go func() {
		defer cancel()
		res := r.run(runCtx, runID)
		r.mu.Lock()
		r.last = &res
		r.mu.Unlock()
		done <- res
	}()
	return runID, done
}

// Run performs a run on the calling goroutine.
func (r *Runner) Run(ctx context.Context) RunResult {
	res := r.run(ctx, uuid.NewString())
	r.mu.Lock()
	r.last = &res
	r.mu.Unlock()
	return res
}

// Last returns the most recently finished run, if any.
func (r *Runner) Last() (RunResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return RunResult{}, false
	}
	return *r.last, true
}

func (r *Runner) run(ctx context.Context, runID string) RunResult {
	log := r.log.With(logger.String("run_id", runID))
	res := RunResult{RunID: runID, StartedAt: time.Now(), Report: Report{Rejected: []Rejection{}}}

	finish := func(err error) RunResult {
		res.FinishedAt = time.Now()
		if err != nil {
			res.Err = err
			res.Error = err.Error()
		}
		r.metrics.ObserveIngest(res.Report.Inserted, res.Report.Skipped, len(res.Report.Rejected), err)
		return res
	}

	log.Info("Feed ingestion started")
	records, err := r.fetcher.FetchFeedPage(ctx)
	if err != nil {
		log.Error("Feed fetch failed", logger.Error(err))
		return finish(err)
	}

	report, err := r.ingestor.Ingest(ctx, records)
	res.Report = report
	if err != nil {
		return finish(err)
	}
	log.Info("Feed ingestion finished", logger.Duration("elapsed", time.Since(res.StartedAt)))
	return finish(nil)
}
