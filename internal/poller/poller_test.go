package poller_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stywzn/vuln-sentinel/internal/config"
	"github.com/stywzn/vuln-sentinel/internal/engine"
	"github.com/stywzn/vuln-sentinel/internal/poller"
)

// scripted returns the given progress values in order, repeating the last one.
type scripted struct {
	mu     sync.Mutex
	values []int
	errAt  int
	err    error
	calls  int
}

func (s *scripted) PollStatus(_ context.Context, _ string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.err != nil && s.calls == s.errAt {
		return 0, s.err
	}
	i := min(s.calls-1, len(s.values)-1)
	return s.values[i], nil
}

// steppingClock advances by step on every call.
func steppingClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	t := time.Unix(0, 0)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(step)
		return t
	}
}

func cfg(timeout, interval time.Duration) config.PollerConfig {
	return config.PollerConfig{Timeout: timeout, Interval: interval}
}

func TestWait_CompletesWhenProgressReaches100(t *testing.T) {
	client := &scripted{values: []int{10, 50, 100}}
	p := poller.New(client, cfg(5*time.Second, time.Millisecond))

	res := p.Wait(context.Background(), "1", nil)

	assert.Equal(t, poller.StateCompleted, res.State)
	assert.Equal(t, 100, res.Progress)
	assert.Equal(t, 3, res.Attempts)
	assert.NoError(t, res.Err)
}

func TestWait_CompletesStrictlyBeforeDeadline(t *testing.T) {
	client := &scripted{values: []int{10, 100}}
	p := poller.New(client, cfg(10*time.Second, time.Millisecond), poller.WithClock(steppingClock(time.Second)))

	res := p.Wait(context.Background(), "1", nil)
	assert.Equal(t, poller.StateCompleted, res.State)
	assert.Equal(t, 2, res.Attempts)
}

func TestWait_TimesOutWhenProgressNeverCompletes(t *testing.T) {
	client := &scripted{values: []int{10, 20, 30}}
	p := poller.New(client, cfg(3*time.Second, time.Millisecond), poller.WithClock(steppingClock(time.Second)))

	res := p.Wait(context.Background(), "1", nil)

	assert.Equal(t, poller.StateTimedOut, res.State)
	assert.Equal(t, 10, res.Progress)
	assert.Equal(t, 1, res.Attempts)
	assert.NoError(t, res.Err)
}

func TestWait_TimesOutOnRealClock(t *testing.T) {
	client := &scripted{values: []int{40}}
	p := poller.New(client, cfg(30*time.Millisecond, 5*time.Millisecond))

	res := p.Wait(context.Background(), "1", nil)

	assert.Equal(t, poller.StateTimedOut, res.State)
	assert.Equal(t, 40, res.Progress)
	assert.GreaterOrEqual(t, res.Attempts, 2)
}

func TestWait_FailsImmediatelyOnUnreachable(t *testing.T) {
	unreachable := fmt.Errorf("poll_status: %w: dial tcp", engine.ErrEngineUnreachable)
	client := &scripted{values: []int{10}, errAt: 2, err: unreachable}
	p := poller.New(client, cfg(5*time.Second, time.Millisecond))

	res := p.Wait(context.Background(), "1", nil)

	assert.Equal(t, poller.StateFailed, res.State)
	assert.ErrorIs(t, res.Err, engine.ErrEngineUnreachable)
	assert.Equal(t, 10, res.Progress)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, client.calls, "no retry after a transport failure")
}

type cancelOnPoll struct {
	cancel context.CancelFunc
}

func (c *cancelOnPoll) PollStatus(context.Context, string) (int, error) {
	c.cancel()
	return 5, nil
}

func TestWait_CancelDuringSuspension(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := poller.New(&cancelOnPoll{cancel: cancel}, cfg(time.Hour, time.Hour))

	done := make(chan poller.Result, 1)
	go func() { done <- p.Wait(ctx, "1", nil) }()

	select {
	case res := <-done:
		assert.Equal(t, poller.StateFailed, res.State)
		assert.True(t, errors.Is(res.Err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not yield on cancellation")
	}
}

func TestWait_ReportsProgress(t *testing.T) {
	client := &scripted{values: []int{25, 100}}
	p := poller.New(client, cfg(5*time.Second, time.Millisecond))

	var states []poller.State
	var progress []int
	res := p.Wait(context.Background(), "1", func(s poller.State, pct int) {
		states = append(states, s)
		progress = append(progress, pct)
	})

	require.Equal(t, poller.StateCompleted, res.State)
	assert.Equal(t, []poller.State{poller.StateRunning, poller.StateCompleted}, states)
	assert.Equal(t, []int{25, 100}, progress)
}

func TestState_Terminal(t *testing.T) {
	assert.False(t, poller.StateStarted.Terminal())
	assert.False(t, poller.StateRunning.Terminal())
	assert.True(t, poller.StateCompleted.Terminal())
	assert.True(t, poller.StateTimedOut.Terminal())
	assert.True(t, poller.StateFailed.Terminal())
}
