package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stywzn/vuln-sentinel/internal/config"
	"github.com/stywzn/vuln-sentinel/internal/coordinator"
	"github.com/stywzn/vuln-sentinel/internal/engine"
	"github.com/stywzn/vuln-sentinel/internal/model"
	"github.com/stywzn/vuln-sentinel/internal/poller"
	"github.com/stywzn/vuln-sentinel/internal/worker"
	"github.com/stywzn/vuln-sentinel/pkg/logger"
	"github.com/stywzn/vuln-sentinel/pkg/mq"
)

type acker struct {
	mu       sync.Mutex
	acked    []uint64
	rejected []uint64
	requeued []uint64
}

func (a *acker) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *acker) Nack(tag uint64, _ bool, requeue bool) error {
	if !requeue {
		return a.Reject(tag, false)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requeued = append(a.requeued, tag)
	return nil
}

func (a *acker) Reject(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejected = append(a.rejected, tag)
	return nil
}

type fakeScanner struct {
	failFor string
}

func (f fakeScanner) RunScan(_ context.Context, target string) (*coordinator.ScanOutcome, error) {
	if target == f.failFor {
		return nil, engine.ErrEngineUnreachable
	}
	return &coordinator.ScanOutcome{
		JobID:       "job-" + target,
		TargetURL:   target,
		PollerState: poller.StateCompleted,
		Features:    []model.ExtractedFeature{{TargetURL: target}, {TargetURL: target}},
	}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	updates  map[uint][]map[string]any
	features int
}

func (f *fakeStore) UpdateTask(_ context.Context, id uint, u map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updates == nil {
		f.updates = map[uint][]map[string]any{}
	}
	f.updates[id] = append(f.updates[id], u)
	return nil
}

func (f *fakeStore) SaveFeatures(_ context.Context, fs []model.ExtractedFeature) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.features += len(fs)
	return nil
}

func delivery(t *testing.T, a *acker, tag uint64, msg *mq.ScanMessage) amqp.Delivery {
	t.Helper()
	body := []byte("garbage")
	if msg != nil {
		pub, err := mq.Encode(*msg)
		require.NoError(t, err)
		body = pub.Body
	}
	return amqp.Delivery{Acknowledger: a, DeliveryTag: tag, Body: body}
}

func TestPool_ProcessesAndAcks(t *testing.T) {
	a := &acker{}
	st := &fakeStore{}
	pool := worker.NewPool(fakeScanner{failFor: "http://down"}, st, config.WorkerConfig{Count: 2}, logger.NewNop())

	deliveries := make(chan amqp.Delivery, 3)
	deliveries <- delivery(t, a, 1, &mq.ScanMessage{TaskID: 1, Target: "http://ok"})
	deliveries <- delivery(t, a, 2, &mq.ScanMessage{TaskID: 2, Target: "http://down"})
	deliveries <- delivery(t, a, 3, nil)
	close(deliveries)

	pool.Run(context.Background(), deliveries)

	assert.ElementsMatch(t, []uint64{1, 2}, a.acked)
	assert.Equal(t, []uint64{3}, a.rejected)
	assert.Equal(t, 2, st.features)

	require.Len(t, st.updates[1], 2)
	assert.Equal(t, model.TaskRunning, st.updates[1][0]["status"])
	assert.Equal(t, model.TaskFinished, st.updates[1][1]["status"])
	assert.Equal(t, 2, st.updates[1][1]["feature_count"])
	assert.Equal(t, "COMPLETED", st.updates[1][1]["poller_state"])

	require.Len(t, st.updates[2], 2)
	assert.Equal(t, model.TaskFailed, st.updates[2][1]["status"])
	assert.Contains(t, st.updates[2][1]["error"], "unreachable")
}

func TestPool_StopsOnContextCancel(t *testing.T) {
	pool := worker.NewPool(fakeScanner{}, &fakeStore{}, config.WorkerConfig{Count: 1}, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		pool.Run(ctx, make(chan amqp.Delivery))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestPool_StoreFailureRejects(t *testing.T) {
	a := &acker{}
	pool := worker.NewPool(fakeScanner{}, failingStore{}, config.WorkerConfig{Count: 1}, logger.NewNop())

	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- delivery(t, a, 7, &mq.ScanMessage{TaskID: 7, Target: "http://ok"})
	close(deliveries)
	pool.Run(context.Background(), deliveries)

	assert.Empty(t, a.acked)
	assert.Equal(t, []uint64{7}, a.rejected)
}

type failingStore struct{}

func (failingStore) UpdateTask(context.Context, uint, map[string]any) error {
	return errors.New("db down")
}

func (failingStore) SaveFeatures(context.Context, []model.ExtractedFeature) error { return nil }

// blockingScanner holds every scan until ctx ends.
type blockingScanner struct{ started chan string }

func (b blockingScanner) RunScan(ctx context.Context, target string) (*coordinator.ScanOutcome, error) {
	b.started <- target
	<-ctx.Done()
	return nil, ctx.Err()
}

// ctxStore fails writes once their context is done.
type ctxStore struct{ fakeStore }

func (s *ctxStore) UpdateTask(ctx context.Context, id uint, u map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeStore.UpdateTask(ctx, id, u)
}

func TestPool_ShutdownRequeuesRunningAndBufferedTasks(t *testing.T) {
	a := &acker{}
	st := &ctxStore{}
	sc := blockingScanner{started: make(chan string, 2)}
	pool := worker.NewPool(sc, st, config.WorkerConfig{Count: 1}, logger.NewNop())

	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- delivery(t, a, 1, &mq.ScanMessage{TaskID: 1, Target: "http://slow"})
	deliveries <- delivery(t, a, 2, &mq.ScanMessage{TaskID: 2, Target: "http://next"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx, deliveries)
		close(done)
	}()

	require.Equal(t, "http://slow", <-sc.started)
	require.Eventually(t, func() bool { return len(deliveries) == 0 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}

	assert.ElementsMatch(t, []uint64{1, 2}, a.requeued)
	assert.Empty(t, a.acked)
	assert.Empty(t, a.rejected)

	require.Len(t, st.updates[1], 2)
	assert.Equal(t, model.TaskRunning, st.updates[1][0]["status"])
	assert.Equal(t, model.TaskPending, st.updates[1][1]["status"])
	assert.Empty(t, st.updates[2])
}

func TestPool_ScanSeesTaskLogger(t *testing.T) {
	a := &acker{}
	sc := &loggerCapture{}
	pool := worker.NewPool(sc, &fakeStore{}, config.WorkerConfig{Count: 1}, logger.NewNop())

	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- delivery(t, a, 4, &mq.ScanMessage{TaskID: 4, Target: "http://ok"})
	close(deliveries)
	pool.Run(context.Background(), deliveries)

	assert.True(t, sc.found)
	assert.Equal(t, []uint64{4}, a.acked)
}

type loggerCapture struct{ found bool }

func (l *loggerCapture) RunScan(ctx context.Context, target string) (*coordinator.ScanOutcome, error) {
	_, l.found = logger.Lookup(ctx)
	return &coordinator.ScanOutcome{JobID: "1", TargetURL: target, PollerState: poller.StateCompleted}, nil
}
