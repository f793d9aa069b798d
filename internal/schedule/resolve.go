// Package schedule holds the next-event resolver, schedule validation and
// the atomically replaced schedule cache.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"muezzin/internal/model"
)

// ErrMalformedSchedule flags a schedule that must not be resolved against:
// empty, duplicate names, or timestamps that are not strictly increasing.
var ErrMalformedSchedule = errors.New("malformed schedule")

// Resolve returns the first event, in declaration order, whose instant is
// strictly after now. A nil or empty schedule, or one with nothing left,
// resolves to Exhausted.
//
// Ties on malformed input go to the earlier-declared event; Validate is
// what reports such input.
func Resolve(s *model.Schedule, now time.Time) model.Resolved {
	for i := 0; i < s.Len(); i++ {
		ev := s.At(i)
		if ev.At.After(now) {
			return model.NextEvent(ev)
		}
	}
	return model.Exhausted()
}

// Validate checks the schedule invariants. Any violation is returned
// wrapped around ErrMalformedSchedule.
func Validate(s *model.Schedule) error {
	if s.Len() == 0 {
		return fmt.Errorf("%w: no events", ErrMalformedSchedule)
	}

	seen := make(map[string]struct{}, s.Len())
	for i := 0; i < s.Len(); i++ {
		ev := s.At(i)
		if ev.Name == "" {
			return fmt.Errorf("%w: event %d has no name", ErrMalformedSchedule, i)
		}
		if ev.At.IsZero() {
			return fmt.Errorf("%w: %s has no time", ErrMalformedSchedule, ev.Name)
		}
		if _, dup := seen[ev.Name]; dup {
			return fmt.Errorf("%w: duplicate event %q", ErrMalformedSchedule, ev.Name)
		}
		seen[ev.Name] = struct{}{}

		if i > 0 {
			prev := s.At(i - 1)
			if !ev.At.After(prev.At) {
				return fmt.Errorf("%w: %s (%s) not after %s (%s)", ErrMalformedSchedule,
					ev.Name, ev.At.Format(time.RFC3339), prev.Name, prev.At.Format(time.RFC3339))
			}
		}
	}
	return nil
}
