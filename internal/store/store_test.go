package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muezzin/internal/emit"
	"muezzin/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "muezzin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestScheduleRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	loc := time.FixedZone("AST", 3*3600)
	day := time.Date(2026, time.March, 6, 0, 0, 0, 0, loc)
	sched := model.NewSchedule(day, []model.Event{
		{Name: "Fajr", At: day.Add(4*time.Hour + 51*time.Minute)},
		{Name: "Dhuhr", At: day.Add(12*time.Hour + 5*time.Minute)},
	})
	require.NoError(t, s.SaveSchedule(sched))

	got, err := s.LoadSchedule(day.Add(15 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())
	assert.True(t, got.At(0).Equal(sched.At(0)))
	assert.True(t, got.At(1).Equal(sched.At(1)))
	assert.Equal(t, "2026-03-06", got.Day.Format(dayLayout))

	// Upsert replaces the stored events.
	require.NoError(t, s.SaveSchedule(model.NewSchedule(day, []model.Event{
		{Name: "Fajr", At: day.Add(5 * time.Hour)},
	})))
	got, err = s.LoadSchedule(day)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}

func TestLoadScheduleNotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_, err := s.LoadSchedule(time.Date(2026, time.March, 6, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPruneSchedules(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	for d := 1; d <= 3; d++ {
		day := time.Date(2026, time.March, d, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.SaveSchedule(model.NewSchedule(day, []model.Event{{Name: "Fajr", At: day.Add(5 * time.Hour)}})))
	}

	n, err := s.PruneSchedules(time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.LoadSchedule(time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
}

func TestHistorySink(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	sink := NewHistorySink(s)

	day := time.Date(2026, time.March, 6, 0, 0, 0, 0, time.UTC)
	sink.OnCountdown(emit.Countdown{EventName: "Fajr"})
	sink.OnScheduleChanged(emit.ScheduleChanged{
		Schedule:   model.NewSchedule(day, []model.Event{{Name: "Fajr", At: day.Add(5 * time.Hour)}}),
		Generation: 1,
	})
	sink.OnEngineError(emit.EngineError{Kind: emit.KindProviderUnavailable, Message: "timeout"})

	history, err := s.ListHistory(10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "engine_error", history[0].Event)
	assert.Equal(t, "ProviderUnavailable", history[0].Metadata["kind"])
	assert.Equal(t, "schedule_changed", history[1].Event)
	assert.Equal(t, "2026-03-06", history[1].Metadata["day"])

	limited, err := s.ListHistory(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
