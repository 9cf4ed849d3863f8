package taskqueue

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dmitrymomot/asynx/pkg/schedule"
)

var httpURLRe = regexp.MustCompile(`(?i)^https?://`)

// allowedMethods is the set of HTTP methods a task request may use.
var allowedMethods = map[string]bool{
	"HEAD": true, "GET": true, "POST": true, "PUT": true,
	"PATCH": true, "DELETE": true, "OPTIONS": true,
}

// Request describes the outbound HTTP call a task performs.
type Request struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload string            `json:"payload,omitempty"`
	// Timeout is the outbound request timeout in seconds.
	Timeout float64 `json:"timeout,omitempty"`
	// AllowRedirects overrides the per-method default redirect policy
	// (true for GET/OPTIONS, false for HEAD, follow otherwise).
	AllowRedirects *bool `json:"allow_redirects,omitempty"`
}

// clone returns a deep copy so callback chaining never mutates the
// persisted request.
func (r Request) clone() Request {
	c := r
	if r.Headers != nil {
		c.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			c.Headers[k] = v
		}
	}
	if r.AllowRedirects != nil {
		v := *r.AllowRedirects
		c.AllowRedirects = &v
	}
	return c
}

// Descriptor is a validated task insert payload. The zero callback
// pointers mean "absent": Add applies the default policy
// (on_success=__delete__, on_failure=__report__, on_complete=none).
type Descriptor struct {
	Request    Request
	CName      string
	Countdown  *float64
	ETA        *time.Time
	Schedule   schedule.Schedule
	OnSuccess  *Callback
	OnFailure  *Callback
	OnComplete *Callback
}

func (d *Descriptor) clone() *Descriptor {
	c := *d
	c.Request = d.Request.clone()
	if d.Countdown != nil {
		v := *d.Countdown
		c.Countdown = &v
	}
	if d.ETA != nil {
		v := *d.ETA
		c.ETA = &v
	}
	return &c
}

// MarshalJSON renders the descriptor back into the insert-payload
// shape, suitable both for persisting sub-task callbacks and for
// re-parsing with ParseDescriptor.
func (d *Descriptor) MarshalJSON() ([]byte, error) {
	out := map[string]any{"request": d.Request}
	if d.CName != "" {
		out["cname"] = d.CName
	}
	if d.Countdown != nil {
		out["countdown"] = *d.Countdown
	}
	if d.ETA != nil {
		out["eta"] = d.ETA.UTC().Format(time.RFC3339Nano)
	}
	if d.Schedule != nil {
		out["schedule"] = d.Schedule.String()
	}
	if d.OnSuccess != nil {
		out["on_success"] = d.OnSuccess
	}
	if d.OnFailure != nil {
		out["on_failure"] = d.OnFailure
	}
	if d.OnComplete != nil {
		out["on_complete"] = d.OnComplete
	}
	return json.Marshal(out)
}

// ParseDescriptor decodes and validates a task insert payload.
// Malformed JSON surfaces the underlying *json.SyntaxError in the
// chain; every other rejection wraps ErrInvalidDescriptor. Naive
// timestamps and cron fields are interpreted in loc (nil means
// time.Local).
func ParseDescriptor(data []byte, loc *time.Location) (*Descriptor, error) {
	if loc == nil {
		loc = time.Local
	}

	var raw struct {
		Request    json.RawMessage `json:"request"`
		CName      *string         `json:"cname"`
		Countdown  *float64        `json:"countdown"`
		ETA        *string         `json:"eta"`
		Schedule   *string         `json:"schedule"`
		OnSuccess  json.RawMessage `json:"on_success"`
		OnFailure  json.RawMessage `json:"on_failure"`
		OnComplete json.RawMessage `json:"on_complete"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	d := &Descriptor{}

	if len(raw.Request) == 0 || string(raw.Request) == "null" {
		return nil, fmt.Errorf("%w: request is required", ErrInvalidDescriptor)
	}
	req, err := parseRequest(raw.Request)
	if err != nil {
		return nil, err
	}
	d.Request = req

	if raw.CName != nil {
		if n := len(*raw.CName); n < 3 || n > 96 {
			return nil, fmt.Errorf("%w: cname length must be in [3, 96], got %d", ErrInvalidDescriptor, n)
		}
		d.CName = *raw.CName
	}

	if raw.Countdown != nil {
		if *raw.Countdown < 0 {
			return nil, fmt.Errorf("%w: countdown must be non-negative", ErrInvalidDescriptor)
		}
		d.Countdown = raw.Countdown
	}

	if raw.ETA != nil {
		eta, err := parseETA(*raw.ETA, loc)
		if err != nil {
			return nil, err
		}
		d.ETA = &eta
	}

	if raw.Schedule != nil {
		sched, err := schedule.Parse(*raw.Schedule, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
		}
		d.Schedule = sched
	}

	if d.OnSuccess, err = parseOptionalCallback("on_success", raw.OnSuccess, loc); err != nil {
		return nil, err
	}
	if d.OnFailure, err = parseOptionalCallback("on_failure", raw.OnFailure, loc); err != nil {
		return nil, err
	}
	if d.OnComplete, err = parseOptionalCallback("on_complete", raw.OnComplete, loc); err != nil {
		return nil, err
	}

	return d, nil
}

func parseRequest(data json.RawMessage) (Request, error) {
	var raw struct {
		Method         *string           `json:"method"`
		URL            *string           `json:"url"`
		Headers        map[string]string `json:"headers"`
		Payload        *string           `json:"payload"`
		Timeout        *float64          `json:"timeout"`
		AllowRedirects *bool             `json:"allow_redirects"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Request{}, fmt.Errorf("%w: request: %v", ErrInvalidDescriptor, err)
	}

	req := Request{Method: "GET"}
	if raw.Method != nil {
		req.Method = strings.ToUpper(*raw.Method)
	}
	if !allowedMethods[req.Method] {
		return Request{}, fmt.Errorf("%w: unsupported method %q", ErrInvalidDescriptor, req.Method)
	}

	if raw.URL == nil || !httpURLRe.MatchString(*raw.URL) {
		return Request{}, fmt.Errorf("%w: url must match ^https?://", ErrInvalidDescriptor)
	}
	req.URL = *raw.URL

	req.Headers = raw.Headers
	if raw.Payload != nil {
		req.Payload = *raw.Payload
	}
	if raw.Timeout != nil {
		if *raw.Timeout < 0 {
			return Request{}, fmt.Errorf("%w: timeout must be non-negative", ErrInvalidDescriptor)
		}
		req.Timeout = *raw.Timeout
	}
	req.AllowRedirects = raw.AllowRedirects
	return req, nil
}

// etaLayouts are tried in order for eta input. Layouts without an
// offset are interpreted in the queue's configured location; the
// bare-clock forms resolve to today's date.
var etaLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var clockLayouts = []string{"15:04:05", "15:04"}

func parseETA(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range etaLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range clockLayouts {
		if clock, err := time.Parse(layout, s); err == nil {
			now := time.Now().In(loc)
			t := time.Date(now.Year(), now.Month(), now.Day(),
				clock.Hour(), clock.Minute(), clock.Second(), 0, loc)
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: eta %q is not a recognized datetime", ErrInvalidDescriptor, s)
}
