// Package session mirrors in-flight scan sessions into Redis so operators can
// watch progress. The mirror expires and is never the system of record.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stywzn/vuln-sentinel/internal/config"
	"github.com/stywzn/vuln-sentinel/internal/coordinator"
)

const (
	keyPrefix      = "sentinel:scan:"
	connectTimeout = 5 * time.Second
)

// ErrNotFound is returned by Get when no snapshot exists for a job.
var ErrNotFound = errors.New("session not found")

// NewClient connects to Redis and verifies the connection.
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Tracker stores session snapshots as JSON strings with a TTL.
type Tracker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewTracker returns a Tracker; every Save refreshes the key's TTL.
func NewTracker(client redis.UniversalClient, ttl time.Duration) *Tracker {
	return &Tracker{client: client, ttl: ttl}
}

// Key returns the Redis key for jobID.
func Key(jobID string) string {
	return keyPrefix + jobID
}

// Save writes s under its job id.
func (t *Tracker) Save(ctx context.Context, s coordinator.Session) error {
	if s.JobID == "" {
		return errors.New("session has no job id")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := t.client.Set(ctx, Key(s.JobID), data, t.ttl).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", s.JobID, err)
	}
	return nil
}

// Get loads the snapshot for jobID.
func (t *Tracker) Get(ctx context.Context, jobID string) (coordinator.Session, error) {
	var s coordinator.Session
	data, err := t.client.Get(ctx, Key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, fmt.Errorf("load session %s: %w", jobID, err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode session %s: %w", jobID, err)
	}
	return s, nil
}
