package store

import (
	"muezzin/internal/emit"
	appLog "muezzin/internal/log"
)

// HistorySink records schedule changes and engine errors. Countdown ticks
// are not persisted.
type HistorySink struct {
	store *Store
}

// NewHistorySink returns a sink writing to s.
func NewHistorySink(s *Store) *HistorySink {
	return &HistorySink{store: s}
}

func (h *HistorySink) OnCountdown(emit.Countdown) {}

func (h *HistorySink) OnScheduleChanged(sc emit.ScheduleChanged) {
	events := make(map[string]interface{}, sc.Schedule.Len())
	for _, ev := range sc.Schedule.Events() {
		events[ev.Name] = ev.At.Format("15:04")
	}
	h.append("schedule_changed", map[string]interface{}{
		"generation": sc.Generation,
		"day":        sc.Schedule.Day.Format(dayLayout),
		"events":     events,
	})
}

func (h *HistorySink) OnEngineError(ee emit.EngineError) {
	h.append("engine_error", map[string]interface{}{
		"kind":    string(ee.Kind),
		"message": ee.Message,
	})
}

func (h *HistorySink) append(event string, meta map[string]interface{}) {
	if err := h.store.AppendHistory(&HistoryEntry{Event: event, Metadata: meta}); err != nil {
		appLog.Error("history append failed", err, "event", event)
	}
}
