// Package provider supplies daily prayer schedules to the engine.
package provider

import (
	"context"
	"errors"
	"time"

	"muezzin/internal/model"
)

// ErrUnavailable marks a transient failure; callers retry later.
var ErrUnavailable = errors.New("schedule provider unavailable")

// Provider fetches the schedule for a calendar day. A nil day means today
// in the provider's location. Every error is retry-eligible.
type Provider interface {
	FetchSchedule(ctx context.Context, day *time.Time) (*model.Schedule, error)
}

// Func adapts a plain function to Provider.
type Func func(ctx context.Context, day *time.Time) (*model.Schedule, error)

func (f Func) FetchSchedule(ctx context.Context, day *time.Time) (*model.Schedule, error) {
	return f(ctx, day)
}

// resolveDay returns local midnight of the requested day, or of today when
// day is nil.
func resolveDay(day *time.Time, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t := now
	if day != nil {
		t = *day
	}
	return model.StartOfDay(t.In(loc))
}
