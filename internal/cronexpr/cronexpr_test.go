package cronexpr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_MalformedReturnsError(t *testing.T) {
	t.Parallel()

	_, err := Parse("not a cron expression")
	require.Error(t, err)
}

func TestSchedule_AfterIsTotal(t *testing.T) {
	t.Parallel()

	exprs := []string{"0 * * * *", "*/15 * * * *", "0 0 1 * *", "0 9 * * 1-5"}
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	for _, expr := range exprs {
		sch, err := Parse(expr)
		require.NoError(t, err)

		next := sch.After(now)
		assert.False(t, next.IsZero(), "expression %q must always produce a next fire time", expr)
		assert.True(t, next.After(now), "expression %q must advance strictly forward", expr)
	}
}

func TestSchedule_HourlyAdvancesByOneHour(t *testing.T) {
	t.Parallel()

	sch, err := Parse("0 * * * *")
	require.NoError(t, err)

	start := time.Date(2025, 6, 15, 5, 30, 0, 0, time.UTC)
	next := sch.After(start)

	assert.Equal(t, time.Date(2025, 6, 15, 6, 0, 0, 0, time.UTC), next)
}
