package provider

import (
	"context"
	"fmt"
	"time"

	appLog "muezzin/internal/log"
	"muezzin/internal/model"
	"muezzin/internal/schedule"
)

// ScheduleStore persists last-good schedules. *store.Store satisfies it.
type ScheduleStore interface {
	SaveSchedule(*model.Schedule) error
	LoadSchedule(day time.Time) (*model.Schedule, error)
}

// Fallback wraps a provider: valid results are saved, and when the
// upstream fails the last saved schedule for that day is served instead.
type Fallback struct {
	upstream Provider
	store    ScheduleStore
	loc      *time.Location
	now      func() time.Time
}

func NewFallback(upstream Provider, store ScheduleStore, loc *time.Location, now func() time.Time) *Fallback {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Fallback{upstream: upstream, store: store, loc: loc, now: now}
}

func (f *Fallback) FetchSchedule(ctx context.Context, day *time.Time) (*model.Schedule, error) {
	sched, err := f.upstream.FetchSchedule(ctx, day)
	if err == nil {
		// Only valid schedules become fallbacks; the engine reports the rest.
		if schedule.Validate(sched) == nil {
			if serr := f.store.SaveSchedule(sched); serr != nil {
				appLog.Error("schedule save failed", serr, "day", sched.Day.Format(time.DateOnly))
			}
		}
		return sched, nil
	}

	d := resolveDay(day, f.now(), f.loc)
	stored, lerr := f.store.LoadSchedule(d)
	if lerr != nil {
		return nil, fmt.Errorf("%w (no stored schedule for %s: %v)", err, d.Format(time.DateOnly), lerr)
	}
	appLog.Warn("provider failed, serving stored schedule", "day", d.Format(time.DateOnly), "cause", err)
	return stored, nil
}

