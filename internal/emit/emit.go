// Package emit delivers engine notifications to presentation sinks.
package emit

import (
	"fmt"
	"sync"
	"time"

	appLog "muezzin/internal/log"
	"muezzin/internal/metrics"
	"muezzin/internal/model"
)

// ErrorKind classifies engine errors surfaced to sinks.
type ErrorKind string

const (
	// KindProviderUnavailable is a transient fetch failure; retried next tick.
	KindProviderUnavailable ErrorKind = "ProviderUnavailable"
	// KindMalformedSchedule is a schedule that failed validation.
	KindMalformedSchedule ErrorKind = "MalformedSchedule"
	// KindStaleResultDiscarded is an expected race outcome. It is logged and
	// counted but never delivered to sinks.
	KindStaleResultDiscarded ErrorKind = "StaleResultDiscarded"
)

// Countdown is one tick's view of the time left until EventName.
type Countdown struct {
	EventName string        `json:"event_name"`
	At        time.Time     `json:"at"`
	Remaining time.Duration `json:"remaining"`
	Hours     int           `json:"hours"`
	Minutes   int           `json:"minutes"`
	Seconds   int           `json:"seconds"`
}

// NewCountdown builds a Countdown for ev at now.
func NewCountdown(ev model.Event, now time.Time) Countdown {
	rem := ev.At.Sub(now)
	h, m, s := Decompose(rem)
	return Countdown{
		EventName: ev.Name,
		At:        ev.At,
		Remaining: rem,
		Hours:     h,
		Minutes:   m,
		Seconds:   s,
	}
}

// ScheduleChanged carries a freshly applied schedule.
type ScheduleChanged struct {
	Schedule   *model.Schedule `json:"schedule"`
	Generation uint64          `json:"generation"`
}

// EngineError is a non-fatal failure surfaced to the user.
type EngineError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Reminder fires Lead before Event.
type Reminder struct {
	Event model.Event   `json:"event"`
	Lead  time.Duration `json:"lead"`
}

// Sink receives engine notifications. Calls are synchronous on the engine
// goroutine, so implementations must return promptly.
type Sink interface {
	OnCountdown(Countdown)
	OnScheduleChanged(ScheduleChanged)
	OnEngineError(EngineError)
}

// AlertSink is implemented by sinks that also want event-due and reminder
// alerts.
type AlertSink interface {
	OnEventDue(model.Event)
	OnReminder(Reminder)
}

// Decompose splits d into whole hours, minutes and seconds, truncating so
// the displayed value never exceeds the real remaining time. Negative
// durations decompose to zero.
func Decompose(d time.Duration) (hours, minutes, seconds int) {
	if d <= 0 {
		return 0, 0, 0
	}
	hours = int(d / time.Hour)
	minutes = int(d % time.Hour / time.Minute)
	seconds = int(d % time.Minute / time.Second)
	return hours, minutes, seconds
}

// Emitter fans notifications out to every registered sink. A panicking
// sink is logged and skipped; delivery is never retried.
type Emitter struct {
	mu    sync.RWMutex
	sinks []Sink
}

// New returns an Emitter delivering to sinks.
func New(sinks ...Sink) *Emitter {
	e := &Emitter{}
	for _, s := range sinks {
		e.Add(s)
	}
	return e
}

// Add registers another sink. Nil sinks are ignored.
func (e *Emitter) Add(s Sink) {
	if s == nil {
		return
	}
	e.mu.Lock()
	e.sinks = append(e.sinks, s)
	e.mu.Unlock()
}

func (e *Emitter) snapshot() []Sink {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Sink(nil), e.sinks...)
}

func (e *Emitter) Countdown(c Countdown) {
	for _, s := range e.snapshot() {
		deliver(s, "countdown", func() { s.OnCountdown(c) })
	}
}

func (e *Emitter) ScheduleChanged(sc ScheduleChanged) {
	for _, s := range e.snapshot() {
		deliver(s, "schedule_changed", func() { s.OnScheduleChanged(sc) })
	}
}

func (e *Emitter) EngineError(ee EngineError) {
	for _, s := range e.snapshot() {
		deliver(s, "engine_error", func() { s.OnEngineError(ee) })
	}
}

func (e *Emitter) EventDue(ev model.Event) {
	for _, s := range e.snapshot() {
		if as, ok := s.(AlertSink); ok {
			deliver(s, "event_due", func() { as.OnEventDue(ev) })
		}
	}
}

func (e *Emitter) Reminder(r Reminder) {
	for _, s := range e.snapshot() {
		if as, ok := s.(AlertSink); ok {
			deliver(s, "reminder", func() { as.OnReminder(r) })
		}
	}
}

func deliver(s Sink, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			name := fmt.Sprintf("%T", s)
			metrics.ObserveSinkPanic(name)
			appLog.Error("sink delivery panicked", fmt.Errorf("%v", r), "sink", name, "notification", what)
		}
	}()
	fn()
}
