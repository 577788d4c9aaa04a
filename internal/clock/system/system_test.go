package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowIsUTCAtMicrosecondResolution(t *testing.T) {
	t.Parallel()

	clk := New()
	require.NotNil(t, clk)

	lo := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	hi := time.Now().UTC().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.Zero(t, got.Nanosecond()%int(time.Microsecond), "sub-microsecond digits are dropped")
	assert.WithinRange(t, got, lo, hi)
}

func TestNowNeverGoesBackwards(t *testing.T) {
	t.Parallel()

	clk := New()
	prev := clk.Now()
	for i := 0; i < 100; i++ {
		next := clk.Now()
		require.False(t, next.Before(prev), "reading %d went backwards: %v < %v", i, next, prev)
		prev = next
	}
}
