package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"muezzin/internal/ics"
	appLog "muezzin/internal/log"
	"muezzin/internal/model"
)

// ICS serves schedules from mosque timetables published as iCalendar
// feeds. Every timed occurrence on the requested day becomes an event;
// all-day entries are ignored.
type ICS struct {
	fetcher *ics.Fetcher
	sources []ics.Source
	loc     *time.Location
	now     func() time.Time
}

// NewICS returns a provider reading sources through fetcher.
func NewICS(fetcher *ics.Fetcher, sources []ics.Source, loc *time.Location, now func() time.Time) (*ICS, error) {
	if fetcher == nil {
		return nil, errors.New("ics fetcher is nil")
	}
	if len(sources) == 0 {
		return nil, errors.New("no ics sources configured")
	}
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &ICS{fetcher: fetcher, sources: sources, loc: loc, now: now}, nil
}

func (p *ICS) FetchSchedule(ctx context.Context, day *time.Time) (*model.Schedule, error) {
	d := resolveDay(day, p.now(), p.loc)

	results, errs := p.fetcher.FetchAll(ctx, p.sources)
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
	}

	var parsed []ics.ParsedEvent
	for _, res := range results {
		evs, err := ics.ParseICS(res.Source, res.Body)
		if err != nil {
			appLog.Error("ics parse failed", err, "id", res.Source.ID)
			continue
		}
		parsed = append(parsed, evs...)
	}

	occ, err := ics.ExpandOccurrences(parsed, ics.ExpandConfig{
		Location:   p.loc,
		RangeStart: d,
		RangeEnd:   d.AddDate(0, 0, 1),
	})
	if err != nil {
		return nil, err
	}

	events := make([]model.Event, 0, len(occ))
	for _, o := range occ {
		if o.AllDay {
			continue
		}
		events = append(events, model.Event{Name: o.Summary, At: o.Start})
	}
	return model.NewSchedule(d, events), nil
}
