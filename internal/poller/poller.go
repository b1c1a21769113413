// Package poller drives a started spider job until it completes, fails, or
// runs out of its time budget.
package poller

import (
	"context"
	"time"

	"github.com/stywzn/vuln-sentinel/internal/config"
)

// State is a poller state.
type State string

const (
	StateStarted   State = "STARTED"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateTimedOut  State = "TIMED_OUT"
	StateFailed    State = "FAILED"
)

// Terminal reports whether s ends a poll cycle.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateTimedOut || s == StateFailed
}

// Complete is the progress value that ends polling.
const Complete = 100

// StatusClient is the slice of the engine client the poller needs.
type StatusClient interface {
	PollStatus(ctx context.Context, jobID string) (int, error)
}

// Result is the terminal outcome of one poll cycle.
type Result struct {
	State    State
	Progress int
	Attempts int
	Elapsed  time.Duration
	// Err is the poll error or context error behind a FAILED state.
	Err error
}

// Poller is safe to reuse across jobs; it holds no per-job state.
type Poller struct {
	client   StatusClient
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
}

// Option customizes a Poller.
type Option func(*Poller)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// New returns a Poller bounded by cfg.Timeout and waiting cfg.Interval between polls.
func New(client StatusClient, cfg config.PollerConfig, opts ...Option) *Poller {
	p := &Poller{
		client:   client,
		timeout:  cfg.Timeout,
		interval: cfg.Interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait polls jobID until a terminal state. It never returns an error: FAILED
// carries the cause in Result.Err. onProgress, if non-nil, sees every observed
// state transition and progress value.
func (p *Poller) Wait(ctx context.Context, jobID string, onProgress func(State, int)) Result {
	start := p.now()
	deadline := start.Add(p.timeout)
	res := Result{State: StateStarted}

	notify := func() {
		if onProgress != nil {
			onProgress(res.State, res.Progress)
		}
	}
	finish := func(s State, err error) Result {
		res.State, res.Err = s, err
		res.Elapsed = p.now().Sub(start)
		notify()
		return res
	}

	for {
		if !p.now().Before(deadline) {
			return finish(StateTimedOut, nil)
		}

		progress, err := p.client.PollStatus(ctx, jobID)
		res.Attempts++
		if err != nil {
			if ctx.Err() != nil {
				return finish(StateFailed, ctx.Err())
			}
			return finish(StateFailed, err)
		}

		res.Progress = progress
		if progress >= Complete {
			return finish(StateCompleted, nil)
		}
		res.State = StateRunning
		notify()

		wait := p.interval
		if remaining := deadline.Sub(p.now()); remaining < wait {
			wait = max(remaining, 0)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return finish(StateFailed, ctx.Err())
		case <-timer.C:
		}
	}
}
