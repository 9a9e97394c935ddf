package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestEventBus_EmitDeliversToSubscribers(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 2)

	bus.Subscribe(EventSessionMatched, "a", func(ctx context.Context, e Event) error {
		got <- e
		return nil
	})
	bus.Subscribe(EventSessionMatched, "b", func(ctx context.Context, e Event) error {
		got <- e
		return nil
	})
	if n := bus.HandlerCount(EventSessionMatched); n != 2 {
		t.Fatalf("HandlerCount() want = 2, got = %d", n)
	}

	bus.Emit(context.Background(), Event{
		Type:    EventSessionMatched,
		Source:  "test",
		Payload: SessionMatchedPayload{SessionID: 1, PartySize: 2},
	})

	for i := 0; i < 2; i++ {
		select {
		case e := <-got:
			p, ok := e.Payload.(SessionMatchedPayload)
			if !ok || p.SessionID != 1 {
				t.Errorf("unexpected payload %#v", e.Payload)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for handler")
		}
	}
	bus.Stop()
}

func TestEventBus_EmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	wantErr := errors.New("boom")
	bus.Subscribe(EventSlotEvicted, "failing", func(ctx context.Context, e Event) error {
		return wantErr
	})
	bus.Subscribe(EventSlotEvicted, "panicking", func(ctx context.Context, e Event) error {
		panic("handler bug")
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventSlotEvicted})
	if !errors.Is(err, wantErr) {
		t.Errorf("EmitSync() want %v, got %v", wantErr, err)
	}
}

func TestEventBus_StoppedBusDropsEvents(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	bus.Subscribe(EventHeartbeat, "count", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})

	bus.Stop()
	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventHeartbeat})
	if err := bus.EmitSync(context.Background(), Event{Type: EventHeartbeat}); err != nil {
		t.Errorf("EmitSync() on stopped bus returned %v", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("handler called %d times after Stop", n)
	}
}

func TestSlotState_MarshalJSON(t *testing.T) {
	b, err := SlotPending.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"pending"` {
		t.Errorf("MarshalJSON() want = %q, got = %q", `"pending"`, string(b))
	}
	if SlotState(42).String() != "empty" {
		t.Errorf("unknown SlotState should render as empty")
	}
}
