package taskqueue

import (
	"encoding/json"
	"fmt"
	"time"
)

// CallbackKind enumerates the callback variants a task may carry.
type CallbackKind int

const (
	// CallbackNone performs no action.
	CallbackNone CallbackKind = iota
	// CallbackReport logs the response and task identity.
	CallbackReport
	// CallbackDelete is the serialized on_success default; callback
	// dispatch treats it as a no-op and terminal cleanup handles the
	// actual deletion.
	CallbackDelete
	// CallbackPost inserts a sub-task POSTing the serialized response
	// to a URL.
	CallbackPost
	// CallbackSubTask inserts an embedded sub-task descriptor with the
	// serialized response as payload.
	CallbackSubTask
)

// Callback is the tagged variant invoked by the runner after the
// outbound request resolves. The zero value is CallbackNone.
type Callback struct {
	Kind    CallbackKind
	URL     string      // CallbackPost
	SubTask *Descriptor // CallbackSubTask
}

const (
	literalReport = "__report__"
	literalDelete = "__delete__"
)

func (c *Callback) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case CallbackNone:
		return []byte("null"), nil
	case CallbackReport:
		return json.Marshal(literalReport)
	case CallbackDelete:
		return json.Marshal(literalDelete)
	case CallbackPost:
		return json.Marshal(c.URL)
	case CallbackSubTask:
		return json.Marshal(c.SubTask)
	default:
		return nil, fmt.Errorf("taskqueue: unknown callback kind %d", c.Kind)
	}
}

// parseOptionalCallback distinguishes an absent field (nil, defaults
// apply) from an explicit null (no-op callback).
func parseOptionalCallback(field string, raw json.RawMessage, loc *time.Location) (*Callback, error) {
	if raw == nil {
		return nil, nil
	}
	return parseCallback(field, raw, loc)
}

func parseCallback(field string, raw json.RawMessage, loc *time.Location) (*Callback, error) {
	if string(raw) == "null" {
		return &Callback{Kind: CallbackNone}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch {
		case s == literalReport:
			return &Callback{Kind: CallbackReport}, nil
		case s == literalDelete:
			// Only meaningful as the on_success default.
			if field != "on_success" {
				return nil, fmt.Errorf("%w: %s: __delete__ is only valid for on_success", ErrInvalidDescriptor, field)
			}
			return &Callback{Kind: CallbackDelete}, nil
		case httpURLRe.MatchString(s):
			return &Callback{Kind: CallbackPost, URL: s}, nil
		default:
			return nil, fmt.Errorf("%w: %s: expected null, __report__, an http(s) URL or a sub-task", ErrInvalidDescriptor, field)
		}
	}

	sub, err := ParseDescriptor(raw, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDescriptor, field, err)
	}
	return &Callback{Kind: CallbackSubTask, SubTask: sub}, nil
}
