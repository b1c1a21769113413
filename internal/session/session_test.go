package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stywzn/vuln-sentinel/internal/config"
	"github.com/stywzn/vuln-sentinel/internal/coordinator"
	"github.com/stywzn/vuln-sentinel/internal/poller"
	"github.com/stywzn/vuln-sentinel/internal/session"
)

func newTracker(t *testing.T, ttl time.Duration) (*session.Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return session.NewTracker(client, ttl), mr
}

func TestSaveAndGet(t *testing.T) {
	tr, mr := newTracker(t, time.Hour)
	ctx := context.Background()
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	in := coordinator.Session{
		TargetURL: "http://target",
		JobID:     "7",
		State:     poller.StateRunning,
		Progress:  40,
		StartedAt: started,
	}
	require.NoError(t, tr.Save(ctx, in))

	out, err := tr.Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, in.TargetURL, out.TargetURL)
	assert.Equal(t, poller.StateRunning, out.State)
	assert.Equal(t, 40, out.Progress)
	assert.True(t, started.Equal(out.StartedAt))

	assert.Equal(t, time.Hour, mr.TTL(session.Key("7")))
}

func TestGet_Expired(t *testing.T) {
	tr, mr := newTracker(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, tr.Save(ctx, coordinator.Session{JobID: "1", State: poller.StateCompleted}))
	mr.FastForward(2 * time.Minute)

	_, err := tr.Get(ctx, "1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestSave_RequiresJobID(t *testing.T) {
	tr, _ := newTracker(t, time.Minute)
	assert.Error(t, tr.Save(context.Background(), coordinator.Session{TargetURL: "http://x"}))
}

func TestNewClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	client, err := session.NewClient(config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	_ = client.Close()

	mr.Close()
	_, err = session.NewClient(config.RedisConfig{Addr: addr})
	assert.Error(t, err)
}
