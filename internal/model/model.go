package model

import (
	"encoding/json"
	"time"
)

// Event is a named instant the engine tracks (a prayer time).
// Two events with the same name on different days are distinct.
type Event struct {
	Name string    `json:"name" yaml:"name"`
	At   time.Time `json:"at" yaml:"at"`
}

// Equal reports whether e and o share name and instant.
func (e Event) Equal(o Event) bool {
	return e.Name == o.Name && e.At.Equal(o.At)
}

// IsZero reports whether e is the zero Event.
func (e Event) IsZero() bool {
	return e.Name == "" && e.At.IsZero()
}

// Schedule is the ordered set of events for one calendar day.
//
// A Schedule is never mutated after construction: refreshes build a new
// value and the cache swaps pointers. Use NewSchedule so the caller's slice
// is copied.
type Schedule struct {
	// Day is local midnight of the calendar day this schedule covers.
	Day    time.Time `json:"day"`
	events []Event
}

// NewSchedule builds a Schedule for the calendar day containing day.
// The events slice is copied; ordering is preserved as given so that
// validation can flag unsorted input instead of hiding it.
func NewSchedule(day time.Time, events []Event) *Schedule {
	cp := make([]Event, len(events))
	copy(cp, events)
	return &Schedule{
		Day:    StartOfDay(day),
		events: cp,
	}
}

// Events returns a copy of the events in declaration order.
func (s *Schedule) Events() []Event {
	if s == nil {
		return nil
	}
	cp := make([]Event, len(s.events))
	copy(cp, s.events)
	return cp
}

// Len returns the number of events.
func (s *Schedule) Len() int {
	if s == nil {
		return 0
	}
	return len(s.events)
}

// At returns the i-th event in declaration order.
func (s *Schedule) At(i int) Event {
	return s.events[i]
}

// Last returns the final event and false when the schedule is empty.
func (s *Schedule) Last() (Event, bool) {
	if s.Len() == 0 {
		return Event{}, false
	}
	return s.events[len(s.events)-1], true
}

// MarshalJSON exposes the events alongside the day.
func (s *Schedule) MarshalJSON() ([]byte, error) {
	type wire struct {
		Day    time.Time `json:"day"`
		Events []Event   `json:"events"`
	}
	return json.Marshal(wire{Day: s.Day, Events: s.Events()})
}

// Resolved is the answer to "what fires next": either an Event or
// Exhausted when nothing remains today.
type Resolved struct {
	Event     Event
	Exhausted bool
}

// NextEvent wraps e as a non-exhausted result.
func NextEvent(e Event) Resolved {
	return Resolved{Event: e}
}

// Exhausted is the "no events remaining" result.
func Exhausted() Resolved {
	return Resolved{Exhausted: true}
}

// StartOfDay returns local midnight of t in t's own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same calendar date in a's location.
func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
