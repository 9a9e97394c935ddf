package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/space-project/spacerelay/internal/events"
	"github.com/space-project/spacerelay/internal/server"
)

type fakeRelay struct {
	snap  *server.Snapshot
	stats server.StatsSnapshot
}

func (f *fakeRelay) Snapshot() *server.Snapshot   { return f.snap }
func (f *fakeRelay) Stats() server.StatsSnapshot { return f.stats }

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		snap: &server.Snapshot{Slots: []server.SlotView{
			{Index: 0, State: events.SlotActive, Peer: "10.0.0.1:1000", PartySize: 2, SessionID: 7},
			{Index: 1, State: events.SlotActive, Peer: "10.0.0.2:2000", PartySize: 2, SessionID: 7},
			{Index: 2, State: events.SlotEmpty},
		}},
		stats: server.StatsSnapshot{Relayed: 42},
	}
}

func runConsole(t *testing.T, bus *events.EventBus, input string) string {
	t.Helper()
	var out bytes.Buffer
	NewCLI(bus, newFakeRelay(), strings.NewReader(input), &out).Start(context.Background())
	return out.String()
}

func TestCLI_Status(t *testing.T) {
	out := runConsole(t, events.NewEventBus(), "status\n")

	for _, want := range []string{"10.0.0.1:1000", "10.0.0.2:2000", "active", "empty", "2 active"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestCLI_SessionsAndStats(t *testing.T) {
	out := runConsole(t, events.NewEventBus(), "sessions\nstats\n")

	if !strings.Contains(out, "10.0.0.1:1000, 10.0.0.2:2000") {
		t.Errorf("sessions output missing members:\n%s", out)
	}
	if !strings.Contains(out, "42") {
		t.Errorf("stats output missing relayed count:\n%s", out)
	}
}

func TestCLI_UnknownCommand(t *testing.T) {
	out := runConsole(t, events.NewEventBus(), "frobnicate\n")
	if !strings.Contains(out, "Unknown command: 'frobnicate'") {
		t.Errorf("output = %s", out)
	}
}

func TestCLI_QuitEmitsShutdown(t *testing.T) {
	bus := events.NewEventBus()
	shutdown := make(chan struct{}, 1)
	bus.Subscribe(events.EventShutdown, "test", func(context.Context, events.Event) error {
		shutdown <- struct{}{}
		return nil
	})

	// Commands after quit are not executed.
	out := runConsole(t, bus, "quit\nstatus\n")
	if strings.Contains(out, "10.0.0.1:1000") {
		t.Error("console kept reading after quit")
	}

	select {
	case <-shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("quit did not emit shutdown")
	}
}
