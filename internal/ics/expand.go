package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "muezzin/internal/log"
)

const defaultMaxOccurrencesPerEvent = 500

// Occurrence is one concrete instance of a timetable entry.
type Occurrence struct {
	SourceID string
	UID      string
	Summary  string
	AllDay   bool
	Start    time.Time
}

// ExpandConfig bounds recurrence expansion.
type ExpandConfig struct {
	// Location occurrences are converted to; time.Local when nil.
	Location *time.Location

	// RangeStart is inclusive, RangeEnd exclusive.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules.
	MaxOccurrencesPerEvent int
}

// ExpandOccurrences turns parsed events into occurrences starting inside
// [RangeStart, RangeEnd), applying RRULE, EXDATE and RECURRENCE-ID
// overrides. The result is sorted by start time.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) ([]Occurrence, error) {
	if !cfg.RangeEnd.After(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd must be after RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	overrides := make(map[string][]ParsedEvent)
	var bases []ParsedEvent
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		} else {
			bases = append(bases, ev)
		}
	}

	var out []Occurrence
	for _, ev := range bases {
		for _, start := range instanceStarts(ev, cfg) {
			inst := ev
			if o, ok := findOverride(overrides[ev.UID], start); ok {
				inst = o
				start = o.Start
			}
			if start.Before(cfg.RangeStart) || !start.Before(cfg.RangeEnd) {
				continue
			}
			out = append(out, Occurrence{
				SourceID: inst.Source.ID,
				UID:      inst.UID,
				Summary:  inst.Summary,
				AllDay:   inst.AllDay,
				Start:    start.In(cfg.Location),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// instanceStarts lists the series starts of ev that may land in range.
// Overrides can move an instance, so the caller re-checks the final start.
func instanceStarts(ev ParsedEvent, cfg ExpandConfig) []time.Time {
	if ev.RawRRule == "" {
		return []time.Time{ev.Start}
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: bad RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	// Widen by a day on each side: an override may move an instance into range.
	starts := set.Between(cfg.RangeStart.In(loc).AddDate(0, 0, -1), cfg.RangeEnd.In(loc).AddDate(0, 0, 1), true)
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		appLog.Warn("expand: occurrences truncated", "uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
		starts = starts[:cfg.MaxOccurrencesPerEvent]
	}
	return starts
}

func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, o := range overrides {
		if o.Recurrence.Equal(start) {
			return o, true
		}
	}
	return ParsedEvent{}, false
}
