// Package schedule provides the two recurrence forms understood by the
// task queue: fixed intervals ("every N seconds") and five-field cron
// expressions (minute, hour, day-of-month, month, day-of-week).
//
// Parse accepts both grammars transparently: input matching the
// interval grammar yields an Interval, anything else is attempted as a
// cron expression. Cron schedules are evaluated in the location they
// were parsed with, so queues configured with a local zone fire at
// local wall-clock times while storing absolute UTC instants.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when a string matches neither the
// interval grammar nor a valid cron expression.
var ErrInvalidSchedule = errors.New("schedule: invalid schedule string")

// Schedule computes recurring fire times.
type Schedule interface {
	// Next returns the first instant strictly after t at which the
	// schedule fires.
	Next(t time.Time) time.Time

	// String returns the canonical string form, re-parseable by Parse.
	String() string
}

var intervalRe = regexp.MustCompile(`^every ([0-9]*\.?[0-9]+) seconds?$`)

// Parse converts a schedule string into a Schedule. Cron expressions
// are evaluated in loc; a nil loc means time.Local. The interval
// grammar is tried first, matching "every {N} seconds" (singular
// "second" is accepted on input).
func Parse(s string, loc *time.Location) (Schedule, error) {
	if m := intervalRe.FindStringSubmatch(s); m != nil {
		secs, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
		}
		return NewInterval(secs)
	}
	return ParseCron(s, loc)
}

// Interval fires every fixed number of seconds.
type Interval struct {
	Every float64 // seconds, always positive
}

// NewInterval returns an interval schedule firing every secs seconds.
func NewInterval(secs float64) (Interval, error) {
	if secs <= 0 {
		return Interval{}, fmt.Errorf("%w: interval must be positive, got %v", ErrInvalidSchedule, secs)
	}
	return Interval{Every: secs}, nil
}

func (i Interval) Next(t time.Time) time.Time {
	return t.Add(time.Duration(i.Every * float64(time.Second)))
}

func (i Interval) String() string {
	return "every " + formatSeconds(i.Every) + " seconds"
}

// formatSeconds renders a float in plain decimal notation with an
// explicit decimal point so the canonical form round-trips across
// implementations ("30.0", "2.5", "2592000.0"). Exponent notation
// would not re-parse under the interval grammar.
func formatSeconds(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Cron is a five-field cron schedule evaluated in a fixed location.
type Cron struct {
	inner cron.Schedule
	expr  string
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a five-field cron expression. Each field accepts
// "*", single integers, comma lists, ranges "a-b" and steps "*/N" or
// "a-b/N". The expression is evaluated in loc (nil means time.Local).
func ParseCron(expr string, loc *time.Location) (*Cron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("%w: expected 5 fields, got %d in %q", ErrInvalidSchedule, len(fields), expr)
	}
	canonical := strings.Join(fields, " ")

	sched, err := cronParser.Parse(canonical)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	if loc == nil {
		loc = time.Local
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok {
		spec.Location = loc
	}
	return &Cron{inner: sched, expr: canonical}, nil
}

func (c *Cron) Next(t time.Time) time.Time {
	return c.inner.Next(t)
}

func (c *Cron) String() string {
	return c.expr
}
