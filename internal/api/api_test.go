package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"

	"github.com/space-project/spacerelay/internal/config"
	"github.com/space-project/spacerelay/internal/db"
	"github.com/space-project/spacerelay/internal/events"
	"github.com/space-project/spacerelay/internal/server"
)

type fakeRelay struct {
	snap  *server.Snapshot
	stats server.StatsSnapshot
}

func (f *fakeRelay) Snapshot() *server.Snapshot   { return f.snap }
func (f *fakeRelay) Stats() server.StatsSnapshot { return f.stats }
func (f *fakeRelay) Options() server.Options {
	return server.Options{Capacity: len(f.snap.Slots), Tick: time.Millisecond, Timeout: 2 * time.Second, EchoSender: true}
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		snap: &server.Snapshot{
			Capacity:      3,
			NextSessionID: 2,
			Slots: []server.SlotView{
				{Index: 0, State: events.SlotActive, Peer: "10.0.0.1:1000", PartySize: 2, SessionID: 1},
				{Index: 1, State: events.SlotActive, Peer: "10.0.0.2:2000", PartySize: 2, SessionID: 1},
				{Index: 2, State: events.SlotPending, Peer: "10.0.0.3:3000", PartySize: 3},
			},
		},
		stats: server.StatsSnapshot{PacketsReceived: 12, SessionsMatched: 1, Relayed: 8},
	}
}

func newTestAPI(t *testing.T, history *db.HistoryDatabase) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.API.RateLimitRPS = 0
	return NewServer(cfg, newFakeRelay(), history).Handler()
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("GET %s: invalid JSON %q: %v", path, rec.Body.String(), err)
	}
	return rec, body
}

func TestPing(t *testing.T) {
	rec, body := get(t, newTestAPI(t, nil), "/api/public/ping")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["status"] != "ok" || body["version"] != config.Version {
		t.Errorf("body = %v", body)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestSlotsAndSessions(t *testing.T) {
	h := newTestAPI(t, nil)

	rec, body := get(t, h, "/api/monitor/slots")
	if rec.Code != http.StatusOK {
		t.Fatalf("slots status = %d", rec.Code)
	}
	counts := map[string]float64{
		"empty":   body["empty"].(float64),
		"pending": body["pending"].(float64),
		"active":  body["active"].(float64),
	}
	if diff := cmp.Diff(map[string]float64{"empty": 0, "pending": 1, "active": 2}, counts); diff != "" {
		t.Errorf("slot counts mismatch (-want +got):\n%s", diff)
	}

	rec, body = get(t, h, "/api/monitor/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions status = %d", rec.Code)
	}
	if body["total"].(float64) != 1 || body["next_session_id"].(float64) != 2 {
		t.Errorf("sessions body = %v", body)
	}
}

func TestStats(t *testing.T) {
	rec, body := get(t, newTestAPI(t, nil), "/api/monitor/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["packets_received"].(float64) != 12 || body["relayed"].(float64) != 8 {
		t.Errorf("stats body = %v", body)
	}
}

func TestHistory(t *testing.T) {
	rec, _ := get(t, newTestAPI(t, nil), "/api/monitor/history")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled history status = %d, want 503", rec.Code)
	}

	history, err := db.NewHistoryDatabase(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer history.Close()
	err = history.RecordSession(events.SessionMatchedPayload{
		SessionID: 1,
		PartySize: 2,
		MatchedAt: time.Now(),
		Members: []events.SessionMember{
			{Index: 0, Peer: "10.0.0.1:1000", Ordinal: 0},
			{Index: 1, Peer: "10.0.0.2:2000", Ordinal: 1},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	rec, body := get(t, newTestAPI(t, history), "/api/monitor/history?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	if sessions := body["sessions"].([]interface{}); len(sessions) != 1 {
		t.Errorf("history sessions = %v", sessions)
	}
}

func TestUnknownRoute(t *testing.T) {
	rec, body := get(t, newTestAPI(t, nil), "/api/monitor/nope")
	if rec.Code != http.StatusNotFound || body["error"] == nil {
		t.Errorf("status = %d, body = %v", rec.Code, body)
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Unix(0, 0)

	// Burst of two, then refused until a token refills.
	for i, want := range []bool{true, true, false} {
		if got := rl.Allow("1.2.3.4", now); got != want {
			t.Errorf("request %d: Allow() = %v, want %v", i, got, want)
		}
	}
	if !rl.Allow("5.6.7.8", now) {
		t.Error("other client should have its own bucket")
	}
	if !rl.Allow("1.2.3.4", now.Add(time.Second)) {
		t.Error("token should refill after one second")
	}
}
