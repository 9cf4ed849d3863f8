package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// userAgent is sent on outbound task requests unless the caller
// supplied one. The value is part of the cross-implementation
// contract.
const userAgent = "Asynx/4.0"

// Injected request headers.
const (
	headerQueueName = "X-Asynx-QueueName"
	headerTaskUUID  = "X-Asynx-TaskUUID"
	headerTaskETA   = "X-Asynx-TaskETA"
	headerTaskCName = "X-Asynx-TaskCName"

	headerCallback     = "X-Asynx-Callback"
	headerChained      = "X-Asynx-Chained"
	headerChainedUUID  = "X-Asynx-Chained-TaskUUID"
	headerChainedETA   = "X-Asynx-Chained-TaskETA"
	headerChainedCName = "X-Asynx-Chained-TaskCName"
)

// errTaskGone signals that the task vanished between dispatch steps.
var errTaskGone = errors.New("taskqueue: task gone")

// Runner executes dispatched tasks: it claims the task, performs the
// outbound HTTP request, fires the callback chain and either deletes
// the task or re-arms it on its schedule.
type Runner struct {
	client redis.UniversalClient
	broker Broker
	loc    *time.Location
	httpc  *http.Client
	log    *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLocation sets the zone used for schedule evaluation.
func WithRunnerLocation(loc *time.Location) RunnerOption {
	return func(r *Runner) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithRunnerLogger sets the logger. Default: discard.
func WithRunnerLogger(log *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// WithHTTPClient sets the base HTTP client for outbound requests.
func WithHTTPClient(c *http.Client) RunnerOption {
	return func(r *Runner) {
		if c != nil {
			r.httpc = c
		}
	}
}

// NewRunner creates a task runner sharing the engine's Redis client
// and broker.
func NewRunner(client redis.UniversalClient, broker Broker, opts ...RunnerOption) *Runner {
	r := &Runner{
		client: client,
		broker: broker,
		loc:    time.Local,
		httpc:  &http.Client{},
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run handles one delivery of (app, queue, id). Duplicate deliveries
// and races with concurrent deletes are silently absorbed: a missing
// task or a failed status transition aborts without error so the
// broker never retries them.
func (r *Runner) Run(ctx context.Context, app, queue string, id int64) error {
	q := New(r.client, app,
		WithQueue(queue),
		WithBroker(r.broker),
		WithLocation(r.loc),
		WithLogger(r.log),
	)

	t, err := q.Get(ctx, id)
	if errors.Is(err, ErrTaskNotFound) {
		r.log.DebugContext(ctx, "task vanished before dispatch",
			slog.String("app", app), slog.String("queue", queue), slog.Int64("task_id", id))
		return nil
	}
	if err != nil {
		return err
	}

	err = q.updateStatus(ctx, id, StatusRunning, StatusEnqueued, StatusDelayed)
	if errors.Is(err, ErrTaskStatusNotMatched) || errors.Is(err, ErrTaskNotFound) {
		r.log.DebugContext(ctx, "task not claimable, dropping delivery",
			slog.String("app", app), slog.String("queue", queue), slog.Int64("task_id", id),
			slog.Any("reason", err))
		return nil
	}
	if err != nil {
		return err
	}
	t.Status = StatusRunning

	resp, success := r.execute(ctx, q, t)
	if success {
		r.fireCallback(ctx, q, t, t.OnSuccess, resp)
	} else {
		r.fireCallback(ctx, q, t, t.OnFailure, resp)
	}
	r.fireCallback(ctx, q, t, t.OnComplete, resp)

	return r.finalize(ctx, q, t)
}

// execute performs the outbound HTTP request and classifies the
// result. HTTP status in [200, 303) is success; anything else,
// including transport errors, is failure. Transport failures carry no
// response body.
func (r *Runner) execute(ctx context.Context, q *TaskQueue, t *Task) (*Response, bool) {
	req := t.Request

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.Timeout*float64(time.Second)))
		defer cancel()
	}

	var body io.Reader
	if req.Payload != "" && (req.Method == http.MethodPost || req.Method == http.MethodPut || req.Method == http.MethodPatch) {
		body = strings.NewReader(req.Payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return &Response{URL: req.URL, History: []*Response{}, Reason: err.Error()}, false
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set(headerQueueName, q.queue)
	httpReq.Header.Set(headerTaskUUID, t.UUID)
	if v := etaHeaderValue(t.ETA); v != "" {
		httpReq.Header.Set(headerTaskETA, v)
	}
	if t.CName != "" {
		httpReq.Header.Set(headerTaskCName, t.CName)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", userAgent)
	}

	resp, err := r.clientFor(req).Do(httpReq)
	if err != nil {
		r.log.WarnContext(ctx, "outbound request failed",
			slog.String("url", req.URL), slog.Int64("task_id", t.ID), slog.Any("error", err))
		return &Response{URL: req.URL, History: []*Response{}, Reason: err.Error()}, false
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		r.log.WarnContext(ctx, "reading response body failed",
			slog.String("url", req.URL), slog.Int64("task_id", t.ID), slog.Any("error", err))
		return &Response{URL: req.URL, History: []*Response{}, Reason: err.Error()}, false
	}

	return wrapResponse(resp, respBody), resp.StatusCode >= 200 && resp.StatusCode < 303
}

// clientFor applies the per-request redirect policy: an explicit
// allow_redirects wins, otherwise GET and OPTIONS follow, HEAD does
// not, and everything else keeps the client default (follow).
func (r *Runner) clientFor(req Request) *http.Client {
	follow := true
	switch {
	case req.AllowRedirects != nil:
		follow = *req.AllowRedirects
	case req.Method == http.MethodHead:
		follow = false
	}
	if follow {
		return r.httpc
	}
	c := *r.httpc
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &c
}

// fireCallback dispatches one callback variant. Callback failures are
// logged, never propagated: the task's own outcome is already decided.
func (r *Runner) fireCallback(ctx context.Context, q *TaskQueue, t *Task, cb Callback, resp *Response) {
	switch cb.Kind {
	case CallbackNone, CallbackDelete:
		return

	case CallbackReport:
		r.log.InfoContext(ctx, "task report",
			slog.String("app", q.app),
			slog.String("queue", q.queue),
			slog.Int64("task_id", t.ID),
			slog.String("uuid", t.UUID),
			slog.String("url", resp.URL),
			slog.Int("status_code", resp.StatusCode),
			slog.String("reason", resp.Reason),
		)

	case CallbackPost:
		payload, err := json.Marshal(resp)
		if err != nil {
			r.log.ErrorContext(ctx, "serializing callback payload failed",
				slog.Int64("task_id", t.ID), slog.Any("error", err))
			return
		}
		sub := &Descriptor{Request: Request{
			Method:  http.MethodPost,
			URL:     cb.URL,
			Payload: string(payload),
			Headers: map[string]string{headerCallback: t.Request.URL},
		}}
		if _, err := q.Add(ctx, sub); err != nil {
			r.log.ErrorContext(ctx, "inserting callback sub-task failed",
				slog.Int64("task_id", t.ID), slog.String("callback_url", cb.URL), slog.Any("error", err))
		}

	case CallbackSubTask:
		payload, err := json.Marshal(resp)
		if err != nil {
			r.log.ErrorContext(ctx, "serializing callback payload failed",
				slog.Int64("task_id", t.ID), slog.Any("error", err))
			return
		}
		sub := cb.SubTask.clone()
		if sub.Request.Headers == nil {
			sub.Request.Headers = map[string]string{}
		}
		sub.Request.Headers[headerChained] = t.Request.URL
		sub.Request.Headers[headerChainedUUID] = t.UUID
		if v := etaHeaderValue(t.ETA); v != "" {
			sub.Request.Headers[headerChainedETA] = v
		}
		if t.CName != "" {
			sub.Request.Headers[headerChainedCName] = t.CName
		}
		sub.Request.Payload = string(payload)
		if _, err := q.Add(ctx, sub); err != nil {
			r.log.ErrorContext(ctx, "inserting chained sub-task failed",
				slog.Int64("task_id", t.ID), slog.Any("error", err))
		}
	}
}

// finalize performs terminal cleanup: recurring tasks get a new eta
// from their schedule and go back to the broker; one-shot tasks are
// deleted, bypassing the running check. A task already removed by an
// explicit delete is treated as done.
func (r *Runner) finalize(ctx context.Context, q *TaskQueue, t *Task) error {
	if t.Schedule == nil {
		if err := q.deleteTask(ctx, t); err != nil && !errors.Is(err, ErrTaskNotFound) {
			return err
		}
		return nil
	}

	now := time.Now().UTC()
	next := t.Schedule.Next(now).UTC()
	prevUUID := t.UUID
	t.LastRunAt = &now
	t.ETA = &next

	etaJSON, _ := json.Marshal(epochSeconds(next))
	lastRunJSON, _ := json.Marshal(epochSeconds(now))

	metaKey := q.metaKey(t.ID)
	err := q.store.transaction(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, metaKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return errTaskGone
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, metaKey,
				fieldETA, string(etaJSON),
				fieldLastRunAt, string(lastRunJSON))
			return nil
		})
		return err
	}, metaKey)
	if errors.Is(err, errTaskGone) {
		r.log.DebugContext(ctx, "recurring task deleted during run, not re-arming",
			slog.Int64("task_id", t.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("taskqueue: re-arm task %d: %w", t.ID, err)
	}

	if err := q.dispatch(ctx, t, prevUUID); err != nil {
		return err
	}
	r.log.DebugContext(ctx, "recurring task re-armed",
		slog.Int64("task_id", t.ID),
		slog.Time("eta", next),
	)
	return nil
}
