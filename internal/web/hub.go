package web

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"muezzin/internal/emit"
	appLog "muezzin/internal/log"
	"muezzin/internal/model"
)

// Message types on the /ws stream.
const (
	TypeCountdown       = "countdown"
	TypeScheduleChanged = "schedule_changed"
	TypeEngineError     = "engine_error"
	TypeEventDue        = "event_due"
	TypeReminder        = "reminder"
)

// Message is one notification as sent to websocket clients.
type Message struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

const subscriberBuffer = 32

// Hub is a presentation sink that rebroadcasts engine notifications to
// websocket subscribers. Slow subscribers lose messages instead of
// stalling the engine.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Message]struct{}

	// Latest schedule and countdown, replayed to new subscribers.
	lastSchedule  *Message
	lastCountdown *Message

	now func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[chan Message]struct{}),
		now:         time.Now,
	}
}

// Subscribe registers a subscriber. The channel first receives the latest
// schedule and countdown, if any. Call cancel to unsubscribe.
func (h *Hub) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, subscriberBuffer)

	h.mu.Lock()
	for _, m := range []*Message{h.lastSchedule, h.lastCountdown} {
		if m != nil {
			ch <- *m
		}
	}
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers reports the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) OnCountdown(c emit.Countdown) {
	m := h.message(TypeCountdown, c)
	h.mu.Lock()
	h.lastCountdown = &m
	h.mu.Unlock()
	h.broadcast(m)
}

func (h *Hub) OnScheduleChanged(sc emit.ScheduleChanged) {
	m := h.message(TypeScheduleChanged, sc)
	h.mu.Lock()
	h.lastSchedule = &m
	h.lastCountdown = nil
	h.mu.Unlock()
	h.broadcast(m)
}

func (h *Hub) OnEngineError(ee emit.EngineError) {
	h.broadcast(h.message(TypeEngineError, ee))
}

func (h *Hub) OnEventDue(ev model.Event) {
	h.broadcast(h.message(TypeEventDue, ev))
}

func (h *Hub) OnReminder(r emit.Reminder) {
	h.broadcast(h.message(TypeReminder, r))
}

func (h *Hub) message(typ string, data any) Message {
	return Message{ID: uuid.NewString(), Type: typ, At: h.now(), Data: data}
}

func (h *Hub) broadcast(m Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- m:
		default:
			appLog.Debug("ws subscriber backlog, dropping message", "id", m.ID, "type", m.Type)
		}
	}
}
