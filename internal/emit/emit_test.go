package emit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muezzin/internal/model"
)

type recordingSink struct {
	countdowns []Countdown
	changes    []ScheduleChanged
	errs       []EngineError
	due        []model.Event
	reminders  []Reminder
}

func (r *recordingSink) OnCountdown(c Countdown)              { r.countdowns = append(r.countdowns, c) }
func (r *recordingSink) OnScheduleChanged(sc ScheduleChanged) { r.changes = append(r.changes, sc) }
func (r *recordingSink) OnEngineError(ee EngineError)         { r.errs = append(r.errs, ee) }
func (r *recordingSink) OnEventDue(ev model.Event)            { r.due = append(r.due, ev) }
func (r *recordingSink) OnReminder(rm Reminder)               { r.reminders = append(r.reminders, rm) }

type panicSink struct{}

func (panicSink) OnCountdown(Countdown)             { panic("render failed") }
func (panicSink) OnScheduleChanged(ScheduleChanged) { panic("render failed") }
func (panicSink) OnEngineError(EngineError)         { panic("render failed") }

type plainSink struct{ countdowns int }

func (p *plainSink) OnCountdown(Countdown)             { p.countdowns++ }
func (p *plainSink) OnScheduleChanged(ScheduleChanged) {}
func (p *plainSink) OnEngineError(EngineError)         {}

func TestDecompose(t *testing.T) {
	cases := []struct {
		in      time.Duration
		h, m, s int
	}{
		{0, 0, 0, 0},
		{-5 * time.Second, 0, 0, 0},
		{999 * time.Millisecond, 0, 0, 0},
		{time.Second, 0, 0, 1},
		{59*time.Minute + 59*time.Second + 999*time.Millisecond, 0, 59, 59},
		{7*time.Hour + 3*time.Minute + 9*time.Second, 7, 3, 9},
		{26 * time.Hour, 26, 0, 0},
	}
	for _, tc := range cases {
		h, m, s := Decompose(tc.in)
		assert.Equal(t, [3]int{tc.h, tc.m, tc.s}, [3]int{h, m, s}, "Decompose(%s)", tc.in)
	}
}

func TestDecomposeNeverOverstates(t *testing.T) {
	for d := time.Duration(0); d < 3*time.Hour; d += 777 * time.Millisecond {
		h, m, s := Decompose(d)
		shown := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
		require.LessOrEqual(t, shown, d)
		require.Less(t, d-shown, time.Second)
	}
}

func TestNewCountdown(t *testing.T) {
	now := time.Date(2026, 3, 6, 4, 59, 0, 0, time.UTC)
	ev := model.Event{Name: "Fajr", At: now.Add(61*time.Second + 400*time.Millisecond)}

	c := NewCountdown(ev, now)
	assert.Equal(t, "Fajr", c.EventName)
	assert.Equal(t, 0, c.Hours)
	assert.Equal(t, 1, c.Minutes)
	assert.Equal(t, 1, c.Seconds)
}

func TestEmitterSurvivesPanickingSink(t *testing.T) {
	rec := &recordingSink{}
	e := New(panicSink{}, rec, nil)

	assert.NotPanics(t, func() {
		e.Countdown(Countdown{EventName: "Fajr"})
		e.ScheduleChanged(ScheduleChanged{Generation: 1})
		e.EngineError(EngineError{Kind: KindProviderUnavailable})
	})

	assert.Len(t, rec.countdowns, 1)
	assert.Len(t, rec.changes, 1)
	assert.Len(t, rec.errs, 1)
}

func TestEmitterAlertsOnlyReachAlertSinks(t *testing.T) {
	rec := &recordingSink{}
	plain := &plainSink{}
	e := New(rec, plain)

	ev := model.Event{Name: "Asr", At: time.Now()}
	e.EventDue(ev)
	e.Reminder(Reminder{Event: ev, Lead: 10 * time.Minute})
	e.Countdown(Countdown{EventName: "Asr"})

	assert.Equal(t, []model.Event{ev}, rec.due)
	assert.Len(t, rec.reminders, 1)
	assert.Equal(t, 1, plain.countdowns)
}
