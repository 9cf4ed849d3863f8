// Package broker provides the delayed-job transport between the task
// queue engine and its workers, backed by the same Redis instance the
// engine stores state in.
//
// Jobs are (app, queue, task_id) triples wrapped in a JSON envelope.
// Immediate jobs go onto a ready list consumed with BRPOP in
// submission order; delayed jobs wait in a sorted set scored by their
// delivery time and are promoted to the ready list by an atomic Lua
// script, so concurrent workers never deliver the same job twice.
//
// The broker mints an opaque UUID per enqueue and returns it to the
// caller; the engine stores it verbatim as the task's uuid.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	readyKey   = "AX:JOBS:ready"
	delayedKey = "AX:JOBS:delayed"
)

// Message is the job envelope carried through Redis.
type Message struct {
	UUID   string `json:"uuid"`
	App    string `json:"app"`
	Queue  string `json:"queue"`
	TaskID int64  `json:"task_id"`
}

// Broker enqueues dispatch jobs. It satisfies the engine's Broker
// interface.
type Broker struct {
	client redis.UniversalClient
	log    *slog.Logger
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger. Default: discard.
func WithLogger(log *slog.Logger) Option {
	return func(b *Broker) {
		if log != nil {
			b.log = log
		}
	}
}

// New creates a broker on the given Redis client.
func New(client redis.UniversalClient, opts ...Option) *Broker {
	b := &Broker{
		client: client,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EnqueueNow submits a job for immediate delivery and returns its
// uuid.
func (b *Broker) EnqueueNow(ctx context.Context, app, queue string, id int64) (string, error) {
	msg := Message{UUID: uuid.NewString(), App: app, Queue: queue, TaskID: id}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("broker: marshal job: %w", err)
	}
	if err := b.client.LPush(ctx, readyKey, data).Err(); err != nil {
		return "", fmt.Errorf("broker: push job: %w", err)
	}
	b.log.DebugContext(ctx, "job enqueued",
		slog.String("uuid", msg.UUID),
		slog.String("app", app),
		slog.String("queue", queue),
		slog.Int64("task_id", id),
	)
	return msg.UUID, nil
}

// EnqueueAfter submits a job for delivery at or after now+delay and
// returns its uuid. A non-positive delay degenerates to immediate
// delivery.
func (b *Broker) EnqueueAfter(ctx context.Context, delay time.Duration, app, queue string, id int64) (string, error) {
	if delay <= 0 {
		return b.EnqueueNow(ctx, app, queue, id)
	}

	msg := Message{UUID: uuid.NewString(), App: app, Queue: queue, TaskID: id}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("broker: marshal job: %w", err)
	}
	deliverAt := float64(time.Now().Add(delay).UnixNano()) / float64(time.Second)
	if err := b.client.ZAdd(ctx, delayedKey, redis.Z{Score: deliverAt, Member: string(data)}).Err(); err != nil {
		return "", fmt.Errorf("broker: schedule job: %w", err)
	}
	b.log.DebugContext(ctx, "job scheduled",
		slog.String("uuid", msg.UUID),
		slog.String("app", app),
		slog.String("queue", queue),
		slog.Int64("task_id", id),
		slog.Duration("delay", delay),
	)
	return msg.UUID, nil
}
