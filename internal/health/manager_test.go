package health

import (
	"context"
	"testing"
	"time"

	"github.com/space-project/spacerelay/internal/config"
	"github.com/space-project/spacerelay/internal/events"
	"github.com/space-project/spacerelay/internal/server"
)

type fakeRelay struct {
	snap  *server.Snapshot
	stats server.StatsSnapshot
	done  chan struct{}
}

func (f *fakeRelay) Snapshot() *server.Snapshot   { return f.snap }
func (f *fakeRelay) Stats() server.StatsSnapshot { return f.stats }
func (f *fakeRelay) Done() <-chan struct{}       { return f.done }

func newTestManager(t *testing.T, relay *fakeRelay) (*Manager, chan events.Event) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Health.StallThresholdMs = 1000

	bus := events.NewEventBus()
	got := make(chan events.Event, 4)
	record := func(_ context.Context, e events.Event) error {
		got <- e
		return nil
	}
	bus.Subscribe(events.EventRelayStalled, "test", record)
	bus.Subscribe(events.EventHeartbeat, "test", record)
	t.Cleanup(bus.Stop)

	return NewManager(cfg, bus, relay), got
}

func waitEvent(t *testing.T, ch chan events.Event) events.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func TestCheckStall(t *testing.T) {
	last := time.Unix(1000, 0)
	relay := &fakeRelay{
		snap:  &server.Snapshot{},
		stats: server.StatsSnapshot{LastIteration: last},
		done:  make(chan struct{}),
	}
	m, got := newTestManager(t, relay)
	ctx := context.Background()

	if m.checkStall(ctx, last.Add(500*time.Millisecond)) {
		t.Error("reported stall within threshold")
	}
	if !m.checkStall(ctx, last.Add(3*time.Second)) {
		t.Fatal("missed stall beyond threshold")
	}

	e := waitEvent(t, got)
	if p, ok := e.Payload.(events.RelayStalledPayload); !ok || p.Since != 3*time.Second {
		t.Errorf("stall payload = %+v", e.Payload)
	}

	// Still stalled: no second event.
	m.checkStall(ctx, last.Add(4*time.Second))
	select {
	case e := <-got:
		t.Errorf("unexpected second event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}

	close(relay.done)
	if m.checkStall(ctx, last.Add(10*time.Second)) {
		t.Error("stopped relay reported as stalled")
	}
}

func TestCheckStall_NotStarted(t *testing.T) {
	m, _ := newTestManager(t, &fakeRelay{snap: &server.Snapshot{}, done: make(chan struct{})})
	if m.checkStall(context.Background(), time.Now()) {
		t.Error("relay that never iterated reported as stalled")
	}
}

func TestHeartbeat(t *testing.T) {
	relay := &fakeRelay{
		snap: &server.Snapshot{Slots: []server.SlotView{
			{Index: 0, State: events.SlotPending},
			{Index: 1, State: events.SlotEmpty},
		}},
		stats: server.StatsSnapshot{Relayed: 5},
		done:  make(chan struct{}),
	}
	m, got := newTestManager(t, relay)

	m.heartbeat(context.Background())

	e := waitEvent(t, got)
	p, ok := e.Payload.(HeartbeatPayload)
	if !ok {
		t.Fatalf("payload type %T", e.Payload)
	}
	if p.Pending != 1 || p.Empty != 1 || p.Active != 0 || p.Stats.Relayed != 5 {
		t.Errorf("heartbeat payload = %+v", p)
	}
}
