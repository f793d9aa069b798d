package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var timetableICS = strings.Join([]string{
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//muezzin//test//EN",
	"BEGIN:VEVENT",
	"UID:fajr@masjid",
	"SUMMARY:Fajr",
	"DTSTART:20260301T050000Z",
	"DTEND:20260301T051500Z",
	"RRULE:FREQ=DAILY",
	"EXDATE:20260304T050000Z",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:dhuhr@masjid",
	"SUMMARY:Dhuhr",
	"DTSTART:20260301T120000Z",
	"RRULE:FREQ=DAILY",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:dhuhr@masjid",
	"RECURRENCE-ID:20260306T120000Z",
	"SUMMARY:Jumuah",
	"DTSTART:20260306T131500Z",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:eid@masjid",
	"SUMMARY:Community day",
	"DTSTART;VALUE=DATE:20260306",
	"END:VEVENT",
	"END:VCALENDAR",
	"",
}, "\r\n")

func dayRange(y int, m time.Month, d int) ExpandConfig {
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return ExpandConfig{Location: time.UTC, RangeStart: start, RangeEnd: start.AddDate(0, 0, 1)}
}

func timedSummaries(occ []Occurrence) []string {
	var out []string
	for _, o := range occ {
		if !o.AllDay {
			out = append(out, o.Summary+"@"+o.Start.Format("15:04"))
		}
	}
	return out
}

func TestParseAndExpandFriday(t *testing.T) {
	events, err := ParseICS(Source{ID: "masjid"}, []byte(timetableICS))
	require.NoError(t, err)
	require.NotEmpty(t, events)

	occ, err := ExpandOccurrences(events, dayRange(2026, time.March, 6))
	require.NoError(t, err)
	assert.Equal(t, []string{"Fajr@05:00", "Jumuah@13:15"}, timedSummaries(occ))
}

func TestExpandHonorsExDate(t *testing.T) {
	events, err := ParseICS(Source{ID: "masjid"}, []byte(timetableICS))
	require.NoError(t, err)

	occ, err := ExpandOccurrences(events, dayRange(2026, time.March, 4))
	require.NoError(t, err)
	assert.Equal(t, []string{"Dhuhr@12:00"}, timedSummaries(occ))
}

func TestExpandRejectsInvertedRange(t *testing.T) {
	cfg := dayRange(2026, time.March, 4)
	cfg.RangeEnd = cfg.RangeStart
	_, err := ExpandOccurrences(nil, cfg)
	assert.Error(t, err)
}

func TestParseEmptyBody(t *testing.T) {
	_, err := ParseICS(Source{ID: "x"}, nil)
	assert.Error(t, err)
}

func TestFetcherConditionalAndFallback(t *testing.T) {
	var failing atomic.Bool
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if failing.Load() {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(timetableICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "masjid", URL: srv.URL + "/feed.ics?token=secret"}
	ctx := context.Background()

	first, err := f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, timetableICS, string(first.Body))

	second, err := f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.True(t, second.FromCache, "304 should replay the cached body")
	assert.Equal(t, first.Body, second.Body)

	failing.Store(true)
	third, err := f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.True(t, third.FromCache)

	assert.Equal(t, int32(3), hits.Load())
}

func TestFetcherFailsWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	results, errs := f.FetchAll(context.Background(), []Source{{ID: "masjid", URL: srv.URL}})
	assert.Empty(t, results)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "masjid")
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://masjid.example", redactURL("https://masjid.example"))
	assert.Equal(t, "https://masjid.example/...(redacted)", redactURL("https://masjid.example/cal.ics?token=abc"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
