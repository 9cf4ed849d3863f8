package taskqueue

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/dmitrymomot/asynx/pkg/schedule"
)

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusNew is the in-memory state before dispatch.
	StatusNew Status = "new"
	// StatusEnqueued means the task fired immediately.
	StatusEnqueued Status = "enqueued"
	// StatusDelayed means the task is scheduled into the future.
	StatusDelayed Status = "delayed"
	// StatusRunning means a worker owns the task.
	StatusRunning Status = "running"
)

// Task is a persisted description of an outbound HTTP call plus its
// scheduling and callback policy.
type Task struct {
	ID         int64
	UUID       string
	CName      string
	Request    Request
	ETA        *time.Time // UTC; nil means fire-now
	Schedule   schedule.Schedule
	LastRunAt  *time.Time
	Status     Status
	OnSuccess  Callback
	OnFailure  Callback
	OnComplete Callback
}

// newTask builds an in-memory task from a validated descriptor.
// A countdown takes precedence over an explicit eta, and absent
// callbacks receive the default policy.
func newTask(d *Descriptor, now time.Time) *Task {
	t := &Task{
		Request:    d.Request,
		CName:      d.CName,
		Schedule:   d.Schedule,
		Status:     StatusNew,
		OnSuccess:  Callback{Kind: CallbackDelete},
		OnFailure:  Callback{Kind: CallbackReport},
		OnComplete: Callback{Kind: CallbackNone},
	}
	// A zero countdown counts as absent, so the eta (or fire-now) path
	// applies instead.
	switch {
	case d.Countdown != nil && *d.Countdown > 0:
		eta := now.Add(time.Duration(*d.Countdown * float64(time.Second))).UTC()
		t.ETA = &eta
	case d.ETA != nil:
		eta := d.ETA.UTC()
		t.ETA = &eta
	}
	if d.OnSuccess != nil {
		t.OnSuccess = *d.OnSuccess
	}
	if d.OnFailure != nil {
		t.OnFailure = *d.OnFailure
	}
	if d.OnComplete != nil {
		t.OnComplete = *d.OnComplete
	}
	return t
}

// Countdown is the derived relative view of the eta: eta-now in
// seconds, nil for immediate tasks. It is never persisted.
func (t *Task) Countdown(now time.Time) *float64 {
	if t.ETA == nil {
		return nil
	}
	secs := t.ETA.Sub(now).Seconds()
	return &secs
}

// MarshalJSON renders the wire form of the task: eta and last_run_at
// as offset-qualified ISO-8601, countdown recomputed against the
// current clock, schedule in its canonical grammar.
func (t *Task) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"id":          t.ID,
		"uuid":        nullableString(t.UUID),
		"cname":       nullableString(t.CName),
		"request":     t.Request,
		"countdown":   t.Countdown(time.Now()),
		"eta":         nullableTime(t.ETA),
		"schedule":    nullableSchedule(t.Schedule),
		"last_run_at": nullableTime(t.LastRunAt),
		"status":      t.Status,
		"on_success":  &t.OnSuccess,
		"on_failure":  &t.OnFailure,
		"on_complete": &t.OnComplete,
	}
	return json.Marshal(out)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableSchedule(s schedule.Schedule) any {
	if s == nil {
		return nil
	}
	return s.String()
}

// Hash field names of the metadata hash. Every value is JSON-encoded
// so types round-trip across implementations.
const (
	fieldRequest    = "request"
	fieldUUID       = "uuid"
	fieldCName      = "cname"
	fieldETA        = "eta"
	fieldStatus     = "status"
	fieldSchedule   = "schedule"
	fieldLastRunAt  = "last_run_at"
	fieldOnSuccess  = "on_success"
	fieldOnFailure  = "on_failure"
	fieldOnComplete = "on_complete"
)

// encodeMeta serializes the task into metadata hash fields. The id is
// carried by the key and countdown is derived, so neither is stored;
// instants are stored as float seconds since epoch or null.
func (t *Task) encodeMeta() (map[string]any, error) {
	fields := map[string]any{}
	put := func(name string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("taskqueue: encode field %s: %w", name, err)
		}
		fields[name] = string(data)
		return nil
	}

	pairs := []struct {
		name string
		v    any
	}{
		{fieldRequest, t.Request},
		{fieldUUID, nullableString(t.UUID)},
		{fieldCName, nullableString(t.CName)},
		{fieldETA, nullableEpoch(t.ETA)},
		{fieldStatus, t.Status},
		{fieldSchedule, nullableSchedule(t.Schedule)},
		{fieldLastRunAt, nullableEpoch(t.LastRunAt)},
		{fieldOnSuccess, &t.OnSuccess},
		{fieldOnFailure, &t.OnFailure},
		{fieldOnComplete, &t.OnComplete},
	}
	for _, p := range pairs {
		if err := put(p.name, p.v); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

// decodeMeta rebuilds a task from its metadata hash.
func decodeMeta(id int64, fields map[string]string, loc *time.Location) (*Task, error) {
	t := &Task{ID: id}

	decode := func(name string, dst any) error {
		raw, ok := fields[name]
		if !ok {
			return nil
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return fmt.Errorf("taskqueue: decode field %s of task %d: %w", name, id, err)
		}
		return nil
	}

	if err := decode(fieldRequest, &t.Request); err != nil {
		return nil, err
	}
	var uuidVal, cnameVal *string
	if err := decode(fieldUUID, &uuidVal); err != nil {
		return nil, err
	}
	if err := decode(fieldCName, &cnameVal); err != nil {
		return nil, err
	}
	if uuidVal != nil {
		t.UUID = *uuidVal
	}
	if cnameVal != nil {
		t.CName = *cnameVal
	}

	var etaVal, lastRunVal *float64
	if err := decode(fieldETA, &etaVal); err != nil {
		return nil, err
	}
	if err := decode(fieldLastRunAt, &lastRunVal); err != nil {
		return nil, err
	}
	if etaVal != nil {
		eta := fromEpochSeconds(*etaVal)
		t.ETA = &eta
	}
	if lastRunVal != nil {
		lastRun := fromEpochSeconds(*lastRunVal)
		t.LastRunAt = &lastRun
	}

	if err := decode(fieldStatus, &t.Status); err != nil {
		return nil, err
	}

	var schedVal *string
	if err := decode(fieldSchedule, &schedVal); err != nil {
		return nil, err
	}
	if schedVal != nil {
		sched, err := schedule.Parse(*schedVal, loc)
		if err != nil {
			return nil, fmt.Errorf("taskqueue: decode schedule of task %d: %w", id, err)
		}
		t.Schedule = sched
	}

	for _, cb := range []struct {
		name string
		dst  *Callback
	}{
		{fieldOnSuccess, &t.OnSuccess},
		{fieldOnFailure, &t.OnFailure},
		{fieldOnComplete, &t.OnComplete},
	} {
		raw, ok := fields[cb.name]
		if !ok {
			continue
		}
		parsed, err := parseCallback(cb.name, json.RawMessage(raw), loc)
		if err != nil {
			return nil, fmt.Errorf("taskqueue: decode field %s of task %d: %w", cb.name, id, err)
		}
		*cb.dst = *parsed
	}

	return t, nil
}

func nullableEpoch(t *time.Time) any {
	if t == nil {
		return nil
	}
	return epochSeconds(*t)
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromEpochSeconds(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}

// etaHeaderValue renders the eta as a seconds-since-epoch string for
// the X-Asynx-TaskETA request header.
func etaHeaderValue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatFloat(epochSeconds(*t), 'f', 6, 64)
}
