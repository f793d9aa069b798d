// Package engine runs the reconciliation loop: it keeps the active
// schedule current and emits a countdown to the next event every tick.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"muezzin/internal/clock"
	"muezzin/internal/emit"
	appLog "muezzin/internal/log"
	"muezzin/internal/metrics"
	"muezzin/internal/model"
	"muezzin/internal/provider"
	"muezzin/internal/schedule"
)

// Mode is the loop state.
type Mode int

const (
	// Refreshing waits for a schedule fetch; ticks emit nothing.
	Refreshing Mode = iota
	// Armed has a resolved next event and emits a countdown each tick.
	Armed
)

func (m Mode) String() string {
	switch m {
	case Armed:
		return "armed"
	case Refreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

const (
	defaultTickInterval = time.Second
	defaultFetchTimeout = 30 * time.Second

	// maxFollowUps bounds immediate refetches when a fresh schedule is
	// already exhausted. Further attempts wait for the tick.
	maxFollowUps = 1
)

// Options tunes an Engine. Zero values pick defaults.
type Options struct {
	TickInterval time.Duration
	FetchTimeout time.Duration
	// Location defines calendar days. Defaults to time.Local.
	Location *time.Location
	// Reminders maps an event name to how long before it a reminder fires.
	Reminders map[string]time.Duration
}

// Status is a read-only snapshot of the engine for other goroutines.
type Status struct {
	Mode        string            `json:"mode"`
	Generation  uint64            `json:"generation"`
	Ticket      uint64            `json:"ticket"`
	Next        *model.Event      `json:"next,omitempty"`
	Countdown   *emit.Countdown   `json:"countdown,omitempty"`
	LastError   *emit.EngineError `json:"last_error,omitempty"`
	LastRefresh *time.Time        `json:"last_refresh,omitempty"`
}

type result struct {
	ticket  uint64
	trigger string
	sched   *model.Schedule
	err     error
	took    time.Duration
}

// Engine owns the schedule cache and the loop state. All state below the
// channels is touched only by the goroutine running Run.
type Engine struct {
	provider provider.Provider
	emitter  *emit.Emitter
	clock    clock.Clock
	opts     Options

	cache schedule.Cache

	push    chan string
	results chan result
	done    chan struct{}
	fetchCx context.Context

	mode      Mode
	ticket    uint64
	awaiting  bool
	target    *time.Time
	followUps int
	tracked   model.Event
	reminded  model.Event

	mu     sync.RWMutex
	status Status
}

// New builds an Engine. Nothing runs until Run is called.
func New(p provider.Provider, emitter *emit.Emitter, clk clock.Clock, opts Options) (*Engine, error) {
	if p == nil {
		return nil, errors.New("engine: provider is nil")
	}
	if emitter == nil {
		emitter = emit.New()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	e := &Engine{
		provider: p,
		emitter:  emitter,
		clock:    clk,
		opts:     opts,
		push:     make(chan string, 1),
		results:  make(chan result, 16),
		done:     make(chan struct{}),
		fetchCx:  context.Background(),
		mode:     Refreshing,
	}
	e.publish()
	return e, nil
}

// Run loads the first schedule and drives the loop until ctx is cancelled.
// Fetches still in flight at that point finish on their own and their
// results are dropped.
func (e *Engine) Run(ctx context.Context) error {
	ticker := e.clock.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()
	defer close(e.done)

	e.fetchCx = context.WithoutCancel(ctx)
	appLog.Info("engine started", "tick", e.opts.TickInterval, "location", e.opts.Location.String())
	e.requestRefresh(nil, "startup")

	for {
		select {
		case <-ctx.Done():
			appLog.Info("engine stopping", "generation", e.cache.Generation())
			return nil
		case <-ticker.C():
			e.handleTick()
		case reason := <-e.push:
			e.handlePush(reason)
		case r := <-e.results:
			e.handleResult(r)
		}
	}
}

// Invalidate asks the engine to refetch the schedule now. It never blocks;
// signals arriving before the loop picks up the previous one coalesce.
func (e *Engine) Invalidate(reason string) {
	select {
	case e.push <- reason:
	default:
		appLog.Debug("invalidation coalesced", "reason", reason)
	}
}

// Schedule returns the active schedule, nil before the first load.
func (e *Engine) Schedule() *model.Schedule {
	return e.cache.Schedule()
}

// Generation is the number of schedule replacements applied so far.
func (e *Engine) Generation() uint64 {
	return e.cache.Generation()
}

// Status returns the latest snapshot.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

func (e *Engine) handleTick() {
	metrics.ObserveTick(e.mode.String())
	now := e.clock.Now()

	if e.mode == Refreshing {
		if !e.awaiting {
			e.requestRefresh(e.target, "retry")
		}
		return
	}

	sched := e.cache.Schedule()
	res := schedule.Resolve(sched, now)

	if !e.tracked.IsZero() && !e.tracked.At.After(now) {
		due := e.tracked
		e.tracked = model.Event{}
		appLog.Info("event due", "event", due.Name, "at", due.At)
		e.emitter.EventDue(due)
		if !res.Exhausted {
			// Reload the day in case its remaining times moved.
			day := sched.Day
			e.requestRefresh(&day, "event_due")
			return
		}
	}

	if res.Exhausted {
		e.requestRefresh(e.nextDay(sched, now), "exhausted")
		return
	}

	e.emitCountdown(res.Event, now)
}

func (e *Engine) handlePush(reason string) {
	e.ticket++
	e.followUps = 0
	appLog.Info("schedule invalidated", "reason", reason, "ticket", e.ticket)

	target := e.target
	if e.mode == Armed {
		target = nil
		if sched := e.cache.Schedule(); sched != nil {
			day := sched.Day
			target = &day
		}
	}
	e.requestRefresh(target, "push")
}

func (e *Engine) handleResult(r result) {
	if r.ticket != e.ticket {
		metrics.ObserveStaleDiscard()
		metrics.ObserveRefresh(r.trigger, "stale", r.took)
		appLog.Debug("stale refresh result discarded",
			"kind", emit.KindStaleResultDiscarded, "ticket", r.ticket, "current", e.ticket, "trigger", r.trigger)
		return
	}
	e.awaiting = false

	if r.err != nil {
		metrics.ObserveRefresh(r.trigger, "error", r.took)
		e.fail(emit.KindProviderUnavailable, r.err)
		return
	}
	if err := schedule.Validate(r.sched); err != nil {
		metrics.ObserveRefresh(r.trigger, "malformed", r.took)
		e.fail(emit.KindMalformedSchedule, err)
		return
	}
	metrics.ObserveRefresh(r.trigger, "ok", r.took)

	now := e.clock.Now()
	res := schedule.Resolve(r.sched, now)
	if res.Exhausted && e.followUps >= maxFollowUps {
		// Installing it again would only bump the generation.
		e.target = e.nextDay(r.sched, now)
		appLog.Warn("fresh schedule already exhausted, waiting for next tick",
			"day", r.sched.Day.Format(time.DateOnly), "generation", e.cache.Generation())
		e.publish()
		return
	}

	gen := e.cache.Replace(r.sched)
	metrics.SetGeneration(gen)
	refreshed := e.clock.Now()
	e.mu.Lock()
	e.status.LastError = nil
	e.status.LastRefresh = &refreshed
	e.mu.Unlock()
	e.emitter.ScheduleChanged(emit.ScheduleChanged{Schedule: r.sched, Generation: gen})

	if res.Exhausted {
		e.followUps++
		e.requestRefresh(e.nextDay(r.sched, now), "follow_up")
		return
	}

	e.mode = Armed
	e.followUps = 0
	e.target = nil
	e.emitCountdown(res.Event, now)
}

// requestRefresh enters Refreshing and fetches day (nil = today) on its
// own goroutine, tagged with the current ticket.
func (e *Engine) requestRefresh(day *time.Time, trigger string) {
	e.mode = Refreshing
	e.awaiting = true
	e.target = day
	e.publish()

	ticket := e.ticket
	var req *time.Time
	if day != nil {
		d := *day
		req = &d
	}
	appLog.Debug("schedule refresh requested", "trigger", trigger, "ticket", ticket, "day", formatDay(req))

	go func() {
		ctx, cancel := context.WithTimeout(e.fetchCx, e.opts.FetchTimeout)
		defer cancel()

		start := time.Now()
		sched, err := e.provider.FetchSchedule(ctx, req)
		r := result{ticket: ticket, trigger: trigger, sched: sched, err: err, took: time.Since(start)}

		select {
		case e.results <- r:
		case <-e.done:
		}
	}()
}

func (e *Engine) fail(kind emit.ErrorKind, err error) {
	ee := emit.EngineError{Kind: kind, Message: err.Error(), At: e.clock.Now()}
	appLog.Warn("schedule refresh failed, retrying next tick", "kind", kind, "cause", err)
	e.emitter.EngineError(ee)

	e.mu.Lock()
	e.status.LastError = &ee
	e.mu.Unlock()
}

func (e *Engine) emitCountdown(ev model.Event, now time.Time) {
	e.tracked = ev
	c := emit.NewCountdown(ev, now)
	metrics.SetCountdown(c.Remaining)
	e.emitter.Countdown(c)
	e.remind(ev, c.Remaining)

	e.mu.Lock()
	e.status.Mode = e.mode.String()
	e.status.Generation = e.cache.Generation()
	e.status.Ticket = e.ticket
	e.status.Next = &ev
	e.status.Countdown = &c
	e.mu.Unlock()
}

// remind fires the configured reminder once per event, during the minute
// that starts lead before it.
func (e *Engine) remind(ev model.Event, remaining time.Duration) {
	lead, ok := e.opts.Reminders[ev.Name]
	if !ok || lead <= 0 || ev.Equal(e.reminded) {
		return
	}
	if remaining > lead || remaining <= lead-time.Minute {
		return
	}
	e.reminded = ev
	e.emitter.Reminder(emit.Reminder{Event: ev, Lead: lead})
}

// nextDay is the calendar day after sched, or today when that has already
// passed (host suspended across midnight).
func (e *Engine) nextDay(sched *model.Schedule, now time.Time) *time.Time {
	today := model.StartOfDay(now.In(e.opts.Location))
	if sched == nil {
		return &today
	}
	next := sched.Day.AddDate(0, 0, 1)
	if next.Before(today) {
		next = today
	}
	return &next
}

// publish refreshes the shared snapshot.
func (e *Engine) publish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Mode = e.mode.String()
	e.status.Generation = e.cache.Generation()
	e.status.Ticket = e.ticket
	if e.mode == Refreshing {
		e.status.Next = nil
		e.status.Countdown = nil
	}
}

func formatDay(d *time.Time) string {
	if d == nil {
		return "today"
	}
	return d.Format(time.DateOnly)
}
