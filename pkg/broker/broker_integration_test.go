//go:build integration

package broker_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/asynx/pkg/broker"
	"github.com/dmitrymomot/asynx/pkg/redis"
)

const testRedisURL = "redis://localhost:6379/0"

func newTestRedisClient(t *testing.T) goredis.UniversalClient {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = testRedisURL
	}

	ctx := context.Background()
	client, err := redis.Open(ctx, url)
	require.NoError(t, err, "failed to connect to Redis")

	t.Cleanup(func() {
		_ = client.FlushDB(ctx).Err()
		_ = client.Close()
	})

	return client
}

// collector is a worker handler accumulating delivered messages.
type collector struct {
	mu   sync.Mutex
	msgs []broker.Message
}

func (c *collector) handle(ctx context.Context, msg broker.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) snapshot() []broker.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]broker.Message(nil), c.msgs...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEnqueueNowDeliversInOrder(t *testing.T) {
	ctx := context.Background()
	client := newTestRedisClient(t)
	b := broker.New(client)

	uuids := make([]string, 3)
	for i := range uuids {
		uuid, err := b.EnqueueNow(ctx, "app", "default", int64(i+1))
		require.NoError(t, err)
		require.NotEmpty(t, uuid)
		uuids[i] = uuid
	}

	c := &collector{}
	w := broker.NewWorker(client, c.handle,
		broker.WithConcurrency(1),
		broker.WithBlockTimeout(200*time.Millisecond),
	)

	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(workerCtx) }()

	waitFor(t, 5*time.Second, func() bool { return len(c.snapshot()) == 3 })
	cancel()
	require.NoError(t, <-done)

	msgs := c.snapshot()
	for i, msg := range msgs {
		assert.Equal(t, int64(i+1), msg.TaskID)
		assert.Equal(t, uuids[i], msg.UUID)
		assert.Equal(t, "app", msg.App)
		assert.Equal(t, "default", msg.Queue)
	}
}

func TestEnqueueAfterPromotesWhenDue(t *testing.T) {
	ctx := context.Background()
	client := newTestRedisClient(t)
	b := broker.New(client)

	_, err := b.EnqueueAfter(ctx, 500*time.Millisecond, "app", "default", 7)
	require.NoError(t, err)

	// The job waits in the delayed set until its score is due.
	n, err := client.ZCard(ctx, "AX:JOBS:delayed").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	c := &collector{}
	w := broker.NewWorker(client, c.handle,
		broker.WithBlockTimeout(200*time.Millisecond),
		broker.WithPollInterval(100*time.Millisecond),
	)

	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(workerCtx) }()

	waitFor(t, 5*time.Second, func() bool { return len(c.snapshot()) == 1 })
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int64(7), c.snapshot()[0].TaskID)
	n, err = client.ZCard(ctx, "AX:JOBS:delayed").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnqueueAfterNonPositiveDelayIsImmediate(t *testing.T) {
	ctx := context.Background()
	client := newTestRedisClient(t)
	b := broker.New(client)

	_, err := b.EnqueueAfter(ctx, -time.Second, "app", "default", 1)
	require.NoError(t, err)

	n, err := client.LLen(ctx, "AX:JOBS:ready").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestWorkerSurvivesHandlerErrors(t *testing.T) {
	ctx := context.Background()
	client := newTestRedisClient(t)
	b := broker.New(client)

	var delivered sync.Map
	handler := func(ctx context.Context, msg broker.Message) error {
		delivered.Store(msg.TaskID, true)
		if msg.TaskID == 1 {
			return assert.AnError
		}
		return nil
	}

	for i := range 2 {
		_, err := b.EnqueueNow(ctx, "app", "default", int64(i+1))
		require.NoError(t, err)
	}

	w := broker.NewWorker(client, handler, broker.WithBlockTimeout(200*time.Millisecond))
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(workerCtx) }()

	waitFor(t, 5*time.Second, func() bool {
		_, ok1 := delivered.Load(int64(1))
		_, ok2 := delivered.Load(int64(2))
		return ok1 && ok2
	})
	cancel()
	require.NoError(t, <-done)
}
