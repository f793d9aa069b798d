package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muezzin/internal/config"
	"muezzin/internal/emit"
	"muezzin/internal/engine"
	"muezzin/internal/model"
	"muezzin/internal/store"
)

type fakeEngine struct {
	status engine.Status
	sched  *model.Schedule
}

func (f *fakeEngine) Status() engine.Status     { return f.status }
func (f *fakeEngine) Schedule() *model.Schedule { return f.sched }

type fakeHistory struct {
	entries []store.HistoryEntry
	err     error
	limit   int
}

func (f *fakeHistory) ListHistory(limit int) ([]store.HistoryEntry, error) {
	f.limit = limit
	return f.entries, f.err
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeNotifier) Notify(source, reason string) {
	f.mu.Lock()
	f.calls = append(f.calls, source+"|"+reason)
	f.mu.Unlock()
}

var day = time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC)

func testSchedule() *model.Schedule {
	return model.NewSchedule(day, []model.Event{
		{Name: "Fajr", At: day.Add(4*time.Hour + 50*time.Minute)},
		{Name: "Dhuhr", At: day.Add(12*time.Hour + 5*time.Minute)},
	})
}

func newTestServer(t *testing.T, cfg *config.Config, deps Deps) *httptest.Server {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	srv := httptest.NewServer(NewServer(cfg, deps).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil, Deps{Engine: &fakeEngine{}})
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNextAndSchedule(t *testing.T) {
	ev := model.Event{Name: "Dhuhr", At: day.Add(12*time.Hour + 5*time.Minute)}
	eng := &fakeEngine{status: engine.Status{Mode: "armed", Generation: 3, Next: &ev}}
	srv := newTestServer(t, nil, Deps{Engine: eng})

	resp, err := http.Get(srv.URL + "/api/schedule")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	eng.sched = testSchedule()
	resp, err = http.Get(srv.URL + "/api/schedule")
	require.NoError(t, err)
	var sched struct {
		Day    time.Time     `json:"day"`
		Events []model.Event `json:"events"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sched))
	resp.Body.Close()
	assert.Len(t, sched.Events, 2)
	assert.Equal(t, "Fajr", sched.Events[0].Name)

	resp, err = http.Get(srv.URL + "/api/next")
	require.NoError(t, err)
	var st engine.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Equal(t, "armed", st.Mode)
	assert.Equal(t, uint64(3), st.Generation)
	require.NotNil(t, st.Next)
	assert.Equal(t, "Dhuhr", st.Next.Name)
}

func TestHistory(t *testing.T) {
	hist := &fakeHistory{entries: []store.HistoryEntry{{ID: "1", Event: "schedule_changed"}}}
	srv := newTestServer(t, nil, Deps{Engine: &fakeEngine{}, History: hist})

	resp, err := http.Get(srv.URL + "/api/history?limit=5")
	require.NoError(t, err)
	var entries []store.HistoryEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	resp.Body.Close()
	assert.Equal(t, 5, hist.limit)
	require.Len(t, entries, 1)

	hist.err = errors.New("disk gone")
	resp, err = http.Get(srv.URL + "/api/history?limit=nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, 50, hist.limit)
}

func TestInvalidate(t *testing.T) {
	n := &fakeNotifier{}
	srv := newTestServer(t, nil, Deps{Engine: &fakeEngine{}, Push: n})

	resp, err := http.Get(srv.URL + "/api/invalidate")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/invalidate", "application/json", strings.NewReader(`{"reason":"location changed"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/invalidate?reason=settings", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/invalidate", "application/json", strings.NewReader(`{`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, []string{"http|location changed", "http|settings"}, n.calls)
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "imam", Password: "secret"}
	srv := newTestServer(t, cfg, Deps{Engine: &fakeEngine{}})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/next")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/next", nil)
	req.SetBasicAuth("imam", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil, Deps{Engine: &fakeEngine{}})
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestWebsocketStream(t *testing.T) {
	hub := NewHub()
	hub.OnScheduleChanged(emit.ScheduleChanged{Schedule: testSchedule(), Generation: 1})
	hub.OnCountdown(emit.Countdown{EventName: "Dhuhr", Hours: 2, Minutes: 5})

	srv := newTestServer(t, nil, Deps{Engine: &fakeEngine{}, Hub: hub})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	first := readMessage(t, ctx, conn)
	assert.Equal(t, TypeScheduleChanged, first.Type)
	assert.NotEmpty(t, first.ID)
	second := readMessage(t, ctx, conn)
	assert.Equal(t, TypeCountdown, second.Type)

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	hub.OnEventDue(model.Event{Name: "Dhuhr", At: day.Add(12*time.Hour + 5*time.Minute)})

	third := readMessage(t, ctx, conn)
	assert.Equal(t, TypeEventDue, third.Type)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	msgs, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		hub.OnEngineError(emit.EngineError{Kind: emit.KindProviderUnavailable})
	}
	assert.Len(t, msgs, subscriberBuffer)

	cancel()
	cancel()
	assert.Equal(t, 0, hub.Subscribers())
}

func TestScheduleChangeClearsReplayedCountdown(t *testing.T) {
	hub := NewHub()
	hub.OnCountdown(emit.Countdown{EventName: "Isha"})
	hub.OnScheduleChanged(emit.ScheduleChanged{Schedule: testSchedule(), Generation: 2})

	msgs, cancel := hub.Subscribe()
	defer cancel()
	require.Len(t, msgs, 1)
	assert.Equal(t, TypeScheduleChanged, (<-msgs).Type)
}
