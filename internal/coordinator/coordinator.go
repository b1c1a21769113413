// Package coordinator runs one scan end to end: reachability, start, poll,
// fetch and extract. It never touches storage; callers persist the features.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stywzn/vuln-sentinel/internal/config"
	"github.com/stywzn/vuln-sentinel/internal/engine"
	"github.com/stywzn/vuln-sentinel/internal/extract"
	"github.com/stywzn/vuln-sentinel/internal/metrics"
	"github.com/stywzn/vuln-sentinel/internal/model"
	"github.com/stywzn/vuln-sentinel/internal/poller"
	"github.com/stywzn/vuln-sentinel/pkg/logger"
)

var (
	// ErrStartFailed means the engine refused or garbled the start request.
	ErrStartFailed = errors.New("scan start failed")
	// ErrFetchFailed means findings could not be retrieved after polling.
	ErrFetchFailed = errors.New("fetching findings failed")
)

// Metric labels for scans that end before polling.
const (
	stageUnreachable = "UNREACHABLE"
	stageStartFailed = "START_FAILED"
	stageFetchFailed = "FETCH_FAILED"
	stageCancelled   = "CANCELLED"
)

// Engine is the part of the engine client a scan needs.
type Engine interface {
	CheckReachable(ctx context.Context) bool
	StartScan(ctx context.Context, target string) (string, error)
	PollStatus(ctx context.Context, jobID string) (int, error)
	FetchFindings(ctx context.Context, target string) ([]engine.RawAlert, error)
}

// Tracker receives session snapshots. Failures are logged and otherwise ignored.
type Tracker interface {
	Save(ctx context.Context, s Session) error
}

// Session is the transient state of one RunScan call.
type Session struct {
	TargetURL string       `json:"target_url"`
	JobID     string       `json:"job_id"`
	State     poller.State `json:"state"`
	Progress  int          `json:"progress"`
	StartedAt time.Time    `json:"started_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ScanOutcome is what a scan produced. PollerState records whether findings
// were fetched after a clean completion or after a timeout or poll failure.
type ScanOutcome struct {
	JobID       string                     `json:"scan_id"`
	TargetURL   string                     `json:"target_url"`
	PollerState poller.State               `json:"poller_state"`
	Progress    int                        `json:"progress"`
	Features    []model.ExtractedFeature   `json:"features"`
	Rejected    []*extract.ValidationError `json:"-"`
	StartedAt   time.Time                  `json:"started_at"`
	FinishedAt  time.Time                  `json:"finished_at"`
}

// Coordinator is safe for concurrent RunScan calls; scans share nothing.
type Coordinator struct {
	engine  Engine
	poller  *poller.Poller
	tracker Tracker
	metrics *metrics.Metrics
	log     logger.Logger
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithTracker mirrors sessions into t.
func WithTracker(t Tracker) Option {
	return func(c *Coordinator) { c.tracker = t }
}

// WithMetrics records scan metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New returns a Coordinator polling eng under cfg.
func New(eng Engine, cfg config.PollerConfig, log logger.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine: eng,
		poller: poller.New(eng, cfg),
		log:    log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunScan scans target. It fails with engine.ErrEngineUnreachable before
// starting anything when the engine is down, with ErrStartFailed when the
// start request fails, and with ErrFetchFailed when findings cannot be read.
// A poll timeout or poll failure does not fail the scan: findings are fetched
// anyway and the outcome's PollerState says how polling ended. Cancelling ctx
// returns ctx's error. A logger stored in ctx is preferred over the
// coordinator's own.
func (c *Coordinator) RunScan(ctx context.Context, target string) (*ScanOutcome, error) {
	started := time.Now()
	log := logger.FromContext(ctx, c.log).With(logger.String("target_url", target))

	if !c.engine.CheckReachable(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, c.cancelled(started, err)
		}
		c.metrics.ObserveScan(stageUnreachable, time.Since(started), 0, 0)
		log.Warn("Scan engine unreachable")
		return nil, fmt.Errorf("run scan: %w", engine.ErrEngineUnreachable)
	}

	jobID, err := c.engine.StartScan(ctx, target)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, c.cancelled(started, ctxErr)
		}
		c.metrics.ObserveScan(stageStartFailed, time.Since(started), 0, 0)
		log.Error("Scan start failed", logger.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	log = log.With(logger.String("job_id", jobID))
	sess := Session{
		TargetURL: target,
		JobID:     jobID,
		State:     poller.StateStarted,
		StartedAt: started,
	}
	c.track(ctx, log, sess)
	log.Info("Scan started")

	res := c.poller.Wait(ctx, jobID, func(s poller.State, progress int) {
		sess.State, sess.Progress = s, progress
		c.track(ctx, log, sess)
	})
	if err := ctx.Err(); err != nil {
		return nil, c.cancelled(started, err)
	}
	if res.State != poller.StateCompleted {
		log.Warn("Polling ended early, fetching partial findings",
			logger.String("poller_state", string(res.State)),
			logger.Int("progress", res.Progress),
			logger.Error(res.Err),
		)
	}

	alerts, err := c.engine.FetchFindings(ctx, target)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, c.cancelled(started, ctxErr)
		}
		c.metrics.ObserveScan(stageFetchFailed, time.Since(started), 0, 0)
		log.Error("Fetching findings failed", logger.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	features, rejected := extract.Extract(alerts)
	for i := range features {
		features[i].ScanJobID = jobID
		features[i].TargetURL = target
	}
	for _, r := range rejected {
		log.Warn("Finding rejected", logger.Int("index", r.Index), logger.Error(r))
	}

	out := &ScanOutcome{
		JobID:       jobID,
		TargetURL:   target,
		PollerState: res.State,
		Progress:    res.Progress,
		Features:    features,
		Rejected:    rejected,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
	c.metrics.ObserveScan(string(res.State), out.FinishedAt.Sub(started), len(features), len(rejected))
	log.Info("Scan finished",
		logger.String("poller_state", string(res.State)),
		logger.Int("features", len(features)),
		logger.Int("rejected", len(rejected)),
		logger.Duration("elapsed", out.FinishedAt.Sub(started)),
	)
	return out, nil
}

func (c *Coordinator) cancelled(started time.Time, err error) error {
	c.metrics.ObserveScan(stageCancelled, time.Since(started), 0, 0)
	return fmt.Errorf("run scan: %w", err)
}

func (c *Coordinator) track(ctx context.Context, log logger.Logger, s Session) {
	if c.tracker == nil {
		return
	}
	s.UpdatedAt = time.Now()
	if err := c.tracker.Save(ctx, s); err != nil {
		log.Warn("Session mirror update failed", logger.Error(err))
	}
}
