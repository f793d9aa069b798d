package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 4, 59, 0, 0, time.UTC)
	f := NewFake(start)

	assert.Equal(t, start, f.Now())
	assert.Equal(t, start.Add(time.Minute), f.Advance(time.Minute))

	later := start.Add(time.Hour)
	f.Set(later)
	assert.Equal(t, later, f.Now())
}

func TestFakeTickerDropsUnconsumedTicks(t *testing.T) {
	f := NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	tk := f.NewTicker(time.Second)

	require.Equal(t, 1, f.Tick())
	assert.Equal(t, 0, f.Tick(), "second tick should be dropped while the first is pending")

	got := <-tk.C()
	assert.Equal(t, f.Now(), got)
}

func TestFakeTickerStop(t *testing.T) {
	f := NewFake(time.Now())
	tk := f.NewTicker(time.Second)
	require.Equal(t, 1, f.Tickers())

	tk.Stop()
	assert.Equal(t, 0, f.Tickers())
	assert.Equal(t, 0, f.Tick())
}
