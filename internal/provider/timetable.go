package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "muezzin/internal/log"
	"muezzin/internal/model"
)

// Entry is one daily event at a fixed wall-clock time.
type Entry struct {
	Name          string
	Time          string // HH:MM
	AdjustMinutes int
}

// Override replaces (or adds) an event on the days matched by RRule.
// Event names the entry it replaces; Label, when set, renames it, so a
// Friday override of Dhuhr can surface as "Jumuah".
type Override struct {
	Event string
	Label string
	Time  string // HH:MM
	RRule string
}

type clockTime struct {
	hour, minute int
}

func parseClock(s string) (clockTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return clockTime{}, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return clockTime{hour: t.Hour(), minute: t.Minute()}, nil
}

func (c clockTime) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.hour, c.minute, 0, 0, day.Location())
}

type compiledEntry struct {
	name   string
	at     clockTime
	adjust time.Duration
}

type compiledOverride struct {
	event string
	label string
	at    clockTime
	rule  *rrule.RRule
}

// Timetable serves a fixed daily timetable from configuration.
type Timetable struct {
	loc       *time.Location
	entries   []compiledEntry
	overrides []compiledOverride
	now       func() time.Time
}

// rruleAnchor is the default DTSTART for override rules without one.
var rruleAnchor = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// NewTimetable validates entries and overrides. now may be nil.
func NewTimetable(loc *time.Location, entries []Entry, overrides []Override, now func() time.Time) (*Timetable, error) {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	if len(entries) == 0 {
		return nil, errors.New("timetable has no entries")
	}

	t := &Timetable{loc: loc, now: now}
	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, errors.New("timetable entry without a name")
		}
		ct, err := parseClock(e.Time)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", name, err)
		}
		t.entries = append(t.entries, compiledEntry{
			name:   name,
			at:     ct,
			adjust: time.Duration(e.AdjustMinutes) * time.Minute,
		})
	}

	for _, o := range overrides {
		name := strings.TrimSpace(o.Event)
		if name == "" {
			return nil, errors.New("override without an event name")
		}
		ct, err := parseClock(o.Time)
		if err != nil {
			return nil, fmt.Errorf("override %s: %w", name, err)
		}
		r, err := rrule.StrToRRule(strings.TrimPrefix(strings.TrimSpace(o.RRule), "RRULE:"))
		if err != nil {
			return nil, fmt.Errorf("override %s: bad rrule: %w", name, err)
		}
		if r.OrigOptions.Dtstart.IsZero() {
			r.DTStart(time.Date(rruleAnchor.Year(), rruleAnchor.Month(), rruleAnchor.Day(), ct.hour, ct.minute, 0, 0, loc))
		}
		t.overrides = append(t.overrides, compiledOverride{
			event: name,
			label: strings.TrimSpace(o.Label),
			at:    ct,
			rule:  r,
		})
	}
	return t, nil
}

// FetchSchedule builds the schedule for day. Entries keep their configured
// order; an entry whose time is not after the previous one is taken to
// fall after midnight and moved to the next date.
func (t *Timetable) FetchSchedule(ctx context.Context, day *time.Time) (*model.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := resolveDay(day, t.now(), t.loc)
	// Between is inclusive at both ends; stop short of the next midnight.
	dayEnd := d.AddDate(0, 0, 1).Add(-time.Nanosecond)

	active := make(map[string]compiledOverride)
	for _, o := range t.overrides {
		if len(o.rule.Between(d, dayEnd, true)) > 0 {
			active[o.event] = o
		}
	}

	events := make([]model.Event, 0, len(t.entries)+len(active))
	var prev time.Time
	for _, e := range t.entries {
		name, at := e.name, e.at.on(d).Add(e.adjust)
		// Overrides are exact times; adjustments do not apply to them.
		if o, ok := active[e.name]; ok {
			at = o.at.on(d)
			if o.label != "" {
				name = o.label
			}
			delete(active, e.name)
		}
		if !prev.IsZero() && !at.After(prev) {
			at = at.AddDate(0, 0, 1)
		}
		prev = at
		events = append(events, model.Event{Name: name, At: at})
	}

	// Overrides naming no entry add an event of their own.
	for _, o := range t.overrides {
		if _, ok := active[o.event]; !ok {
			continue
		}
		name := o.event
		if o.label != "" {
			name = o.label
		}
		events = append(events, model.Event{Name: name, At: o.at.on(d)})
		delete(active, o.event)
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].At.Before(events[j].At) })
	appLog.Debug("timetable schedule built", "day", d.Format(time.DateOnly), "events", len(events))
	return model.NewSchedule(d, events), nil
}
