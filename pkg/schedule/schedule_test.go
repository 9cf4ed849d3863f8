package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/asynx/pkg/schedule"
)

func TestParse_Interval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
		secs float64
	}{
		{name: "integer seconds", in: "every 30 seconds", want: "every 30.0 seconds", secs: 30},
		{name: "singular second", in: "every 30 second", want: "every 30.0 seconds", secs: 30},
		{name: "float seconds", in: "every 2.5 seconds", want: "every 2.5 seconds", secs: 2.5},
		{name: "canonical round-trip", in: "every 30.0 seconds", want: "every 30.0 seconds", secs: 30},
		{name: "thirty days", in: "every 2592000 seconds", want: "every 2592000.0 seconds", secs: 2592000},
		{name: "sub-millisecond", in: "every 0.00001 seconds", want: "every 0.00001 seconds", secs: 0.00001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, err := schedule.Parse(tt.in, time.UTC)
			require.NoError(t, err)

			iv, ok := s.(schedule.Interval)
			require.True(t, ok, "expected an Interval")
			assert.Equal(t, tt.secs, iv.Every)
			assert.Equal(t, tt.want, s.String())
		})
	}
}

func TestInterval_CanonicalFormRoundTrips(t *testing.T) {
	t.Parallel()

	// Magnitudes that would flip FormatFloat's 'g' verb into exponent
	// notation must still render in the interval grammar.
	for _, secs := range []float64{0.00001, 0.0001, 0.5, 1, 30, 999999, 1e6, 2592000, 31536000, 1e9} {
		iv, err := schedule.NewInterval(secs)
		require.NoError(t, err)

		again, err := schedule.Parse(iv.String(), time.UTC)
		require.NoError(t, err, "canonical form %q must re-parse", iv.String())
		assert.Equal(t, iv.String(), again.String())
		assert.Equal(t, secs, again.(schedule.Interval).Every)
	}
}

func TestParse_Cron(t *testing.T) {
	t.Parallel()

	s, err := schedule.Parse("*/10 1,2-10 * * *", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "*/10 1,2-10 * * *", s.String())

	// Whitespace is normalized to the canonical single-space form.
	s, err = schedule.Parse("  */1   1-5,8 * * *  ", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "*/1 1-5,8 * * *", s.String())
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
	}{
		{name: "garbage", in: "1234567"},
		{name: "empty", in: ""},
		{name: "too few fields", in: "* * *"},
		{name: "too many fields", in: "* * * * * *"},
		{name: "invalid minute", in: "60 * * * *"},
		{name: "zero interval", in: "every 0 seconds"},
		{name: "negative-ish interval", in: "every -3 seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := schedule.Parse(tt.in, time.UTC)
			require.ErrorIs(t, err, schedule.ErrInvalidSchedule)
		})
	}
}

func TestInterval_Next(t *testing.T) {
	t.Parallel()

	iv, err := schedule.NewInterval(2.5)
	require.NoError(t, err)

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	next := iv.Next(base)
	assert.Equal(t, base.Add(2500*time.Millisecond), next)
	assert.True(t, next.After(base))
}

func TestCron_Next(t *testing.T) {
	t.Parallel()

	t.Run("daily at fixed time", func(t *testing.T) {
		t.Parallel()

		c, err := schedule.ParseCron("30 14 * * *", time.UTC)
		require.NoError(t, err)

		base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC), c.Next(base).UTC())

		// Already past today's slot: rolls to tomorrow.
		base = time.Date(2026, 8, 25, 15, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 8, 26, 14, 30, 0, 0, time.UTC), c.Next(base).UTC())
	})

	t.Run("strictly after", func(t *testing.T) {
		t.Parallel()

		c, err := schedule.ParseCron("* * * * *", time.UTC)
		require.NoError(t, err)

		base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
		assert.Equal(t, base.Add(time.Minute), c.Next(base).UTC())
	})

	t.Run("evaluated in configured zone", func(t *testing.T) {
		t.Parallel()

		ny, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)

		c, err := schedule.ParseCron("0 12 * * *", ny)
		require.NoError(t, err)

		// Noon EST is 17:00 UTC in January.
		base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 1, 5, 17, 0, 0, 0, time.UTC), c.Next(base).UTC())

		// Noon EDT is 16:00 UTC in July: no drift across DST.
		base = time.Date(2026, 7, 6, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 7, 6, 16, 0, 0, 0, time.UTC), c.Next(base).UTC())
	})
}
