package server

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/space-project/spacerelay/internal/events"
	"github.com/space-project/spacerelay/internal/network"
	"github.com/space-project/spacerelay/internal/protocol"
)

func startLoopbackRelay(t *testing.T, opts Options, bus *events.EventBus) (*Server, string) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() unexpected error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	s := New(conn, opts, bus)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, conn.LocalAddr().String()
}

func dialClient(t *testing.T, addr string) *network.Client {
	t.Helper()
	c, err := network.Dial(addr)
	if err != nil {
		t.Fatalf("Dial() unexpected error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRelay_EndToEnd(t *testing.T) {
	s, addr := startLoopbackRelay(t, Options{
		Capacity:   2,
		Tick:       time.Millisecond,
		Timeout:    600 * time.Millisecond,
		EchoSender: true,
	}, nil)

	a, b := dialClient(t, addr), dialClient(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		a   protocol.Assignment
		err error
	}
	results := make(chan result, 2)
	for _, c := range []*network.Client{a, b} {
		go func() {
			asg, err := c.Handshake(ctx, 2)
			results <- result{asg, err}
		}()
	}

	ordinals := make(map[uint64]bool)
	for range 2 {
		r := <-results
		if r.err != nil {
			t.Fatalf("Handshake() unexpected error: %v", r.err)
		}
		if r.a.SessionID != 1 || r.a.PartySize != 2 {
			t.Errorf("Handshake() got %+v", r.a)
		}
		ordinals[r.a.Ordinal] = true
	}
	if !ordinals[0] || !ordinals[1] {
		t.Errorf("ordinals = %v, want 0 and 1", ordinals)
	}

	payload := []byte("HELLOWORLD")
	if err := a.Send(payload); err != nil {
		t.Fatal(err)
	}
	for name, c := range map[string]*network.Client{"peer": b, "sender": a} {
		got, err := c.Receive(ctx)
		if err != nil {
			t.Fatalf("%s Receive() unexpected error: %v", name, err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("%s Receive() = %q, want %q", name, got, payload)
		}
	}

	// Both peers go quiet and are evicted.
	deadline := time.Now().Add(3 * time.Second)
	for {
		empty, _, _ := s.Snapshot().Counts()
		if empty == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("slots not evicted, snapshot %+v", s.Snapshot().Slots)
		}
		time.Sleep(20 * time.Millisecond)
	}

	stats := s.Stats()
	if stats.SessionsMatched != 1 || stats.Evictions != 2 || stats.Relayed != 2 {
		t.Errorf("Stats() = %+v", stats)
	}

	s.Stop()
	if err := s.Join(); err != nil {
		t.Errorf("Join() after Stop = %v, want nil", err)
	}
}

func TestRelay_StartTwice(t *testing.T) {
	s, _ := startLoopbackRelay(t, Options{Capacity: 2}, nil)
	if err := s.Start(); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestRelay_ClosedSocketIsFatal(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}

	bus := events.NewEventBus()
	stopped := make(chan events.RelayStoppedPayload, 1)
	bus.Subscribe(events.EventRelayStopped, "test", func(_ context.Context, e events.Event) error {
		stopped <- e.Payload.(events.RelayStoppedPayload)
		return nil
	})

	s := New(conn, Options{Capacity: 2}, bus)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	conn.Close()

	if err := s.Join(); err == nil {
		t.Fatal("Join() after external close should return an error")
	}

	select {
	case p := <-stopped:
		if p.Error == "" {
			t.Error("relay_stopped payload has no error")
		}
	case <-time.After(2 * time.Second):
		t.Error("relay_stopped event not emitted")
	}
}

func TestRelay_OversizeDatagramDropped(t *testing.T) {
	s, addr := startLoopbackRelay(t, Options{Capacity: 2, Timeout: 5 * time.Second}, nil)
	a, b := dialClient(t, addr), dialClient(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := make(chan error, 2)
	for _, c := range []*network.Client{a, b} {
		go func() {
			_, err := c.Handshake(ctx, 2)
			errs <- err
		}()
	}
	for range 2 {
		if err := <-errs; err != nil {
			t.Fatalf("Handshake() unexpected error: %v", err)
		}
	}

	// 5000 bytes is over the default limit and must not arrive cut short.
	if err := a.Send(bytes.Repeat([]byte{0xab}, 5000)); err != nil {
		t.Fatal(err)
	}
	limit := bytes.Repeat([]byte{0xcd}, protocol.MaxDatagramSize)
	if err := a.Send(limit); err != nil {
		t.Fatal(err)
	}

	got, err := b.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() unexpected error: %v", err)
	}
	if !bytes.Equal(got, limit) {
		t.Errorf("Receive() got %d bytes, want the %d byte datagram", len(got), len(limit))
	}

	// The oversize datagram was read, and counted, before the one relayed.
	if got := s.Stats().OversizeDrops; got != 1 {
		t.Errorf("OversizeDrops = %d, want 1", got)
	}
}
