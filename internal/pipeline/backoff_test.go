package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffGrowsExponentially(t *testing.T) {
	base := 2 * time.Second
	max := time.Minute
	for attempt := 1; attempt <= 4; attempt++ {
		delay := Backoff(base, max, attempt)
		expected := base << (attempt - 1)
		low := expected - expected/4
		high := expected + expected/4
		require.GreaterOrEqual(t, delay, low, "attempt %d", attempt)
		require.LessOrEqual(t, delay, high, "attempt %d", attempt)
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	base := 2 * time.Second
	max := 10 * time.Second
	for i := 0; i < 50; i++ {
		delay := Backoff(base, max, 20)
		require.LessOrEqual(t, delay, max+max/4)
		require.GreaterOrEqual(t, delay, max-max/4)
	}
}

func TestBackoffFirstAttemptUsesBase(t *testing.T) {
	base := time.Second
	delay := Backoff(base, time.Minute, 1)
	require.GreaterOrEqual(t, delay, base-base/4)
	require.LessOrEqual(t, delay, base+base/4)
}
