package emit

import (
	"errors"
	"strings"
	"time"

	appLog "muezzin/internal/log"
	"muezzin/internal/model"
)

// LogSink writes notifications as log lines. Countdown ticks go to DEBUG,
// except for the first tick of each event so INFO logs show what is being
// tracked.
type LogSink struct {
	lastEvent model.Event
}

func (l *LogSink) OnCountdown(c Countdown) {
	ev := model.Event{Name: c.EventName, At: c.At}
	if !ev.Equal(l.lastEvent) {
		l.lastEvent = ev
		appLog.Info("tracking next event", "event", c.EventName, "at", c.At,
			"in", time.Duration(c.Hours)*time.Hour+time.Duration(c.Minutes)*time.Minute+time.Duration(c.Seconds)*time.Second)
		return
	}
	appLog.Debug("countdown", "event", c.EventName, "h", c.Hours, "m", c.Minutes, "s", c.Seconds)
}

func (l *LogSink) OnScheduleChanged(sc ScheduleChanged) {
	parts := make([]string, 0, sc.Schedule.Len())
	for _, ev := range sc.Schedule.Events() {
		parts = append(parts, ev.Name+"@"+ev.At.Format("15:04"))
	}
	appLog.Info("schedule changed",
		"generation", sc.Generation,
		"day", sc.Schedule.Day.Format(time.DateOnly),
		"events", strings.Join(parts, ","),
	)
}

func (l *LogSink) OnEngineError(ee EngineError) {
	appLog.Error("engine error", errors.New(ee.Message), "kind", ee.Kind)
}

func (l *LogSink) OnEventDue(ev model.Event) {
	appLog.Info("event due", "event", ev.Name, "at", ev.At)
}

func (l *LogSink) OnReminder(r Reminder) {
	appLog.Info("reminder", "event", r.Event.Name, "lead", r.Lead, "at", r.Event.At)
}
