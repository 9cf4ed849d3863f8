package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency  = 50
	defaultBlockTimeout = 5 * time.Second
	defaultPollInterval = time.Second
)

// promoteScript atomically moves due jobs from the delayed set to the
// ready list. Running it from several workers at once is safe: each
// job is promoted exactly once.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, job in ipairs(due) do
    redis.call('LPUSH', KEYS[2], job)
    redis.call('ZREM', KEYS[1], job)
end
return #due
`)

// Handler processes one delivered job.
type Handler func(ctx context.Context, msg Message) error

// Worker consumes the ready list and promotes due delayed jobs. Each
// in-flight job is owned by exactly one handler invocation; handler
// errors are logged and the job is dropped (the engine performs no
// automatic retries).
type Worker struct {
	client       redis.UniversalClient
	handler      Handler
	log          *slog.Logger
	concurrency  int
	blockTimeout time.Duration
	pollInterval time.Duration
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithConcurrency bounds the number of jobs handled in parallel.
// Default: 50.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithBlockTimeout sets how long a BRPOP blocks before the loop checks
// for shutdown. Default: 5 seconds.
func WithBlockTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.blockTimeout = d
		}
	}
}

// WithPollInterval sets how often due delayed jobs are promoted.
// Default: 1 second.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithWorkerLogger sets the logger. Default: discard.
func WithWorkerLogger(log *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}

// NewWorker creates a worker delivering jobs to handler.
func NewWorker(client redis.UniversalClient, handler Handler, opts ...WorkerOption) *Worker {
	w := &Worker{
		client:       client,
		handler:      handler,
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		concurrency:  defaultConcurrency,
		blockTimeout: defaultBlockTimeout,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks consuming jobs until ctx is canceled, then waits for
// in-flight handlers to finish.
func (w *Worker) Run(ctx context.Context) error {
	w.log.InfoContext(ctx, "worker started",
		slog.Int("concurrency", w.concurrency))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.promoteLoop(ctx) })
	g.Go(func() error { return w.consumeLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	w.log.Info("worker stopped")
	return err
}

// promoteLoop periodically moves due delayed jobs to the ready list.
func (w *Worker) promoteLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		now := float64(time.Now().UnixNano()) / float64(time.Second)
		n, err := promoteScript.Run(ctx, w.client, []string{delayedKey, readyKey}, now).Int64()
		if err != nil && !errors.Is(err, context.Canceled) {
			w.log.ErrorContext(ctx, "promoting delayed jobs failed", slog.Any("error", err))
			continue
		}
		if n > 0 {
			w.log.DebugContext(ctx, "promoted delayed jobs", slog.Int64("count", n))
		}
	}
}

// consumeLoop pops ready jobs and hands them to bounded concurrent
// handlers.
func (w *Worker) consumeLoop(ctx context.Context) error {
	handlers := &errgroup.Group{}
	handlers.SetLimit(w.concurrency)
	defer handlers.Wait() //nolint:errcheck // handlers never return errors

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		res, err := w.client.BRPop(ctx, w.blockTimeout, readyKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.ErrorContext(ctx, "popping job failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		// BRPOP returns [key, value].
		if len(res) != 2 {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			w.log.ErrorContext(ctx, "dropping malformed job", slog.Any("error", err))
			continue
		}

		handlers.Go(func() error {
			if err := w.handler(ctx, msg); err != nil {
				w.log.ErrorContext(ctx, "job handler failed",
					slog.String("uuid", msg.UUID),
					slog.String("app", msg.App),
					slog.String("queue", msg.Queue),
					slog.Int64("task_id", msg.TaskID),
					slog.Any("error", err),
				)
			}
			return nil
		})
	}
}
