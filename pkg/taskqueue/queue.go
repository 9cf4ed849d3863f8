package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultQueue is the queue name used when none is configured.
	DefaultQueue = "default"

	defaultPageSize = 50
	maxPageSize     = 100
)

// Broker submits dispatch jobs for tasks. It returns an opaque job
// identifier per enqueue, which the engine stores verbatim as the
// task's uuid.
type Broker interface {
	EnqueueNow(ctx context.Context, app, queue string, id int64) (string, error)
	EnqueueAfter(ctx context.Context, delay time.Duration, app, queue string, id int64) (string, error)
}

// TaskQueue is the task lifecycle engine for one (app, queue)
// namespace. It is reentrant: correctness under concurrent writers
// derives from the store's atomic counter and optimistic transactions,
// not from in-process locks.
type TaskQueue struct {
	app    string
	queue  string
	store  *store
	broker Broker
	loc    *time.Location
	log    *slog.Logger
}

// Option configures a TaskQueue.
type Option func(*TaskQueue)

// WithQueue sets the queue name. Default: "default".
func WithQueue(name string) Option {
	return func(q *TaskQueue) {
		if name != "" {
			q.queue = name
		}
	}
}

// WithBroker sets the dispatch broker. Inserting tasks requires one.
func WithBroker(b Broker) Option {
	return func(q *TaskQueue) {
		q.broker = b
	}
}

// WithLocation sets the zone used to evaluate cron fields and naive
// eta input. Default: time.Local.
func WithLocation(loc *time.Location) Option {
	return func(q *TaskQueue) {
		if loc != nil {
			q.loc = loc
		}
	}
}

// WithLogger sets the logger. Default: discard.
func WithLogger(log *slog.Logger) Option {
	return func(q *TaskQueue) {
		if log != nil {
			q.log = log
		}
	}
}

// New creates a task queue engine for the given app bound to a Redis
// client.
func New(client redis.UniversalClient, app string, opts ...Option) *TaskQueue {
	q := &TaskQueue{
		app:   app,
		queue: DefaultQueue,
		store: &store{client: client},
		loc:   time.Local,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// App returns the application name of the namespace.
func (q *TaskQueue) App() string { return q.app }

// Queue returns the queue name of the namespace.
func (q *TaskQueue) Queue() string { return q.queue }

// Location returns the zone used for cron evaluation and naive etas.
func (q *TaskQueue) Location() *time.Location { return q.loc }

// Add inserts a task and dispatches it to the broker. The allocated id
// is a monotonic per-queue sequence and is never revoked, even when a
// later step fails, so id gaps are expected. A cname collision with a
// live task fails with ErrTaskAlreadyExists whether it is caught by
// the pre-check or by the watched-transaction commit.
func (q *TaskQueue) Add(ctx context.Context, d *Descriptor) (*Task, error) {
	if q.broker == nil {
		return nil, errors.New("taskqueue: no broker configured")
	}

	t := newTask(d, time.Now())
	if t.Schedule != nil && t.CName == "" {
		return nil, ErrTaskCNameRequired
	}

	id, err := q.store.incr(ctx, incrKey, q.incrField())
	if err != nil {
		return nil, fmt.Errorf("taskqueue: allocate id: %w", err)
	}
	t.ID = id

	fields, err := t.encodeMeta()
	if err != nil {
		return nil, err
	}
	metaKey := q.metaKey(id)

	if t.CName != "" {
		ck := q.cnameKey(t.CName)
		err := q.store.tryTransaction(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, ck).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%w: cname %q", ErrTaskAlreadyExists, t.CName)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, ck, strconv.FormatInt(id, 10), 0)
				pipe.HSet(ctx, metaKey, fields)
				return nil
			})
			return err
		}, ck)
		if errors.Is(err, redis.TxFailedErr) {
			// The racing writer committed first.
			return nil, fmt.Errorf("%w: cname %q", ErrTaskAlreadyExists, t.CName)
		}
		if err != nil {
			return nil, err
		}
	} else {
		if err := q.store.hsetMany(ctx, metaKey, fields); err != nil {
			return nil, fmt.Errorf("taskqueue: write metadata: %w", err)
		}
	}

	if err := q.dispatch(ctx, t, ""); err != nil {
		return nil, err
	}

	q.log.DebugContext(ctx, "task added",
		slog.String("app", q.app),
		slog.String("queue", q.queue),
		slog.Int64("task_id", t.ID),
		slog.String("status", string(t.Status)),
	)
	return t, nil
}

// dispatch submits the task to the broker and records the resulting
// uuid and status. When re-arming a recurring task, prevUUID is the
// uuid of the previous round; its index entry is replaced in the same
// pipeline so the uuid set keeps exactly one member per live task.
func (q *TaskQueue) dispatch(ctx context.Context, t *Task, prevUUID string) error {
	var (
		jobID string
		err   error
	)
	if t.ETA == nil {
		jobID, err = q.broker.EnqueueNow(ctx, q.app, q.queue, t.ID)
		t.Status = StatusEnqueued
	} else {
		delay := time.Until(*t.ETA)
		if delay < 0 {
			delay = 0
		}
		jobID, err = q.broker.EnqueueAfter(ctx, delay, q.app, q.queue, t.ID)
		t.Status = StatusDelayed
	}
	if err != nil {
		return fmt.Errorf("taskqueue: enqueue task %d: %w", t.ID, err)
	}
	t.UUID = jobID

	uuidJSON, _ := json.Marshal(t.UUID)
	statusJSON, _ := json.Marshal(t.Status)
	return q.store.pipelined(ctx, func(pipe redis.Pipeliner) error {
		if prevUUID != "" {
			pipe.ZRem(ctx, q.uuidKey(), prevUUID)
		}
		pipe.HSet(ctx, q.metaKey(t.ID),
			fieldUUID, string(uuidJSON),
			fieldStatus, string(statusJSON))
		pipe.ZAdd(ctx, q.uuidKey(), redis.Z{Score: float64(t.ID), Member: t.UUID})
		return nil
	})
}

// Iter yields tasks ordered by id, starting at offset within the uuid
// index. Metadata hashes that vanish between the index read and the
// batch load (a race with a concurrent delete) are skipped silently.
func (q *TaskQueue) Iter(ctx context.Context, offset, pageSize int64) iter.Seq2[*Task, error] {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return func(yield func(*Task, error) bool) {
		for {
			entries, err := q.store.zrangeWithScores(ctx, q.uuidKey(), offset, offset+pageSize-1)
			if err != nil {
				yield(nil, fmt.Errorf("taskqueue: range uuid index: %w", err))
				return
			}
			if len(entries) == 0 {
				return
			}

			cmds := make([]*redis.MapStringStringCmd, len(entries))
			err = q.store.pipelined(ctx, func(pipe redis.Pipeliner) error {
				for i, z := range entries {
					cmds[i] = pipe.HGetAll(ctx, q.metaKey(int64(z.Score)))
				}
				return nil
			})
			if err != nil {
				yield(nil, fmt.Errorf("taskqueue: load metadata page: %w", err))
				return
			}

			for i, z := range entries {
				fields, err := cmds[i].Result()
				if err != nil || len(fields) == 0 {
					continue
				}
				t, err := decodeMeta(int64(z.Score), fields, q.loc)
				if err != nil {
					if !yield(nil, err) {
						return
					}
					continue
				}
				if !yield(t, nil) {
					return
				}
			}

			if int64(len(entries)) < pageSize {
				return
			}
			offset += pageSize
		}
	}
}

// List materializes up to limit tasks starting at offset, in id order.
// A non-positive limit yields an empty result.
func (q *TaskQueue) List(ctx context.Context, offset, limit int64) ([]*Task, error) {
	if limit <= 0 {
		return []*Task{}, nil
	}
	pageSize := min(limit+10, maxPageSize)
	tasks := make([]*Task, 0, limit)
	for t, err := range q.Iter(ctx, offset, pageSize) {
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
		if int64(len(tasks)) >= limit {
			break
		}
	}
	return tasks, nil
}

// Count returns the number of live tasks in the queue.
func (q *TaskQueue) Count(ctx context.Context) (int64, error) {
	return q.store.zcard(ctx, q.uuidKey())
}

// Get retrieves a task by id.
func (q *TaskQueue) Get(ctx context.Context, id int64) (*Task, error) {
	fields, err := q.store.hgetAll(ctx, q.metaKey(id))
	if err != nil {
		return nil, fmt.Errorf("taskqueue: load metadata of task %d: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: id %d", ErrTaskNotFound, id)
	}
	return decodeMeta(id, fields, q.loc)
}

// GetByUUID retrieves a task by its broker-assigned uuid.
func (q *TaskQueue) GetByUUID(ctx context.Context, uuid string) (*Task, error) {
	score, err := q.store.zscore(ctx, q.uuidKey(), uuid)
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: uuid %q", ErrTaskNotFound, uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("taskqueue: resolve uuid %q: %w", uuid, err)
	}
	return q.Get(ctx, int64(score))
}

// GetByCName retrieves a task by its custom name.
func (q *TaskQueue) GetByCName(ctx context.Context, cname string) (*Task, error) {
	v, err := q.store.get(ctx, q.cnameKey(cname))
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: cname %q", ErrTaskNotFound, cname)
	}
	if err != nil {
		return nil, fmt.Errorf("taskqueue: resolve cname %q: %w", cname, err)
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("taskqueue: corrupt cname index %q: %w", cname, err)
	}
	return q.Get(ctx, id)
}

// Delete removes a task by id. Unlike the uuid and cname paths, the id
// path refuses to delete a running task; the asymmetry is deliberate
// (the runner removes its own task by reference at terminal cleanup).
func (q *TaskQueue) Delete(ctx context.Context, id int64) error {
	t, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status == StatusRunning {
		return fmt.Errorf("%w: task %d is running and cannot be deleted by id", ErrTaskStatusNotMatched, id)
	}
	return q.deleteTask(ctx, t)
}

// DeleteByUUID removes a task by uuid regardless of its status.
func (q *TaskQueue) DeleteByUUID(ctx context.Context, uuid string) error {
	t, err := q.GetByUUID(ctx, uuid)
	if err != nil {
		return err
	}
	return q.deleteTask(ctx, t)
}

// DeleteByCName removes a task by cname regardless of its status.
func (q *TaskQueue) DeleteByCName(ctx context.Context, cname string) error {
	t, err := q.GetByCName(ctx, cname)
	if err != nil {
		return err
	}
	return q.deleteTask(ctx, t)
}

// deleteTask removes the metadata hash, the uuid index entry and the
// cname key in one watched transaction. The id counter is never
// decremented.
func (q *TaskQueue) deleteTask(ctx context.Context, t *Task) error {
	metaKey := q.metaKey(t.ID)
	uuidKey := q.uuidKey()

	keys := []string{metaKey, uuidKey}
	var ck string
	if t.CName != "" {
		ck = q.cnameKey(t.CName)
		keys = append(keys, ck)
	}

	return q.store.transaction(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, metaKey)
			pipe.ZRem(ctx, uuidKey, t.UUID)
			if ck != "" {
				pipe.Del(ctx, ck)
			}
			return nil
		})
		return err
	}, keys...)
}

// updateStatus transitions the task's status to next, asserting the
// current status is one of allowed. The read and the write share an
// optimistic watch on the metadata key, so concurrent workers racing
// the same transition lose deterministically.
func (q *TaskQueue) updateStatus(ctx context.Context, id int64, next Status, allowed ...Status) error {
	metaKey := q.metaKey(id)
	return q.store.transaction(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, metaKey, fieldStatus).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: id %d", ErrTaskNotFound, id)
		}
		if err != nil {
			return err
		}
		var current Status
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return fmt.Errorf("taskqueue: decode status of task %d: %w", id, err)
		}
		if !slices.Contains(allowed, current) {
			return fmt.Errorf("%w: task %d is %s", ErrTaskStatusNotMatched, id, current)
		}
		statusJSON, _ := json.Marshal(next)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, metaKey, fieldStatus, string(statusJSON))
			return nil
		})
		return err
	}, metaKey)
}
