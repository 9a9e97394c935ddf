// Package server implements the matchmaking and relay core: the fixed-size
// slot table, the handshake matcher, the relay router and the single-worker
// poller that drives them.
package server

import (
	"net/netip"
	"time"

	"github.com/space-project/spacerelay/internal/events"
)

// Slot is one entry of the slot table. The zero value is an empty slot.
type Slot struct {
	Occupied   bool
	Peer       netip.AddrPort
	PartySize  uint64
	SessionID  uint64        // 0 while pending
	LastActive time.Duration // tick-clock realtime of the last packet from Peer
}

// State reports whether the slot is empty, pending or active.
func (s Slot) State() events.SlotState {
	switch {
	case !s.Occupied:
		return events.SlotEmpty
	case s.SessionID == 0:
		return events.SlotPending
	default:
		return events.SlotActive
	}
}

// EvictedSlot records a slot as it was just before eviction.
type EvictedSlot struct {
	Index int
	Slot  Slot
}

// SlotTable is a fixed-capacity table of player slots addressed by peer.
// It is owned by the relay worker and is not safe for concurrent use.
type SlotTable struct {
	slots []Slot
}

// NewSlotTable creates a table with capacity empty slots.
func NewSlotTable(capacity int) *SlotTable {
	return &SlotTable{slots: make([]Slot, capacity)}
}

// Len returns the table capacity.
func (t *SlotTable) Len() int {
	return len(t.slots)
}

// At returns a copy of slot i.
func (t *SlotTable) At(i int) Slot {
	return t.slots[i]
}

// FindByAddress returns the index of the occupied slot owned by addr.
func (t *SlotTable) FindByAddress(addr netip.AddrPort) (int, bool) {
	for i := range t.slots {
		if t.slots[i].Occupied && t.slots[i].Peer == addr {
			return i, true
		}
	}
	return -1, false
}

// FindFree returns the index of the first empty slot.
func (t *SlotTable) FindFree() (int, bool) {
	for i := range t.slots {
		if !t.slots[i].Occupied {
			return i, true
		}
	}
	return -1, false
}

// Claim turns empty slot i into a pending registration for peer.
func (t *SlotTable) Claim(i int, peer netip.AddrPort, partySize uint64, now time.Duration) {
	t.slots[i] = Slot{
		Occupied:   true,
		Peer:       peer,
		PartySize:  partySize,
		LastActive: now,
	}
}

// Assign moves slot i into a session.
func (t *SlotTable) Assign(i int, sessionID uint64) {
	t.slots[i].SessionID = sessionID
}

// Touch refreshes the activity time of slot i.
func (t *SlotTable) Touch(i int, now time.Duration) {
	t.slots[i].LastActive = now
}

// Reset empties slot i.
func (t *SlotTable) Reset(i int) {
	t.slots[i] = Slot{}
}

// Pending returns, in index order, the pending slots waiting for a party of
// partySize.
func (t *SlotTable) Pending(partySize uint64) []int {
	var out []int
	for i, s := range t.slots {
		if s.Occupied && s.SessionID == 0 && s.PartySize == partySize {
			out = append(out, i)
		}
	}
	return out
}

// EvictStale resets every occupied slot idle for longer than timeout and
// returns what was evicted.
func (t *SlotTable) EvictStale(now, timeout time.Duration) []EvictedSlot {
	var evicted []EvictedSlot
	for i, s := range t.slots {
		if !s.Occupied {
			continue
		}
		if now-s.LastActive > timeout {
			evicted = append(evicted, EvictedSlot{Index: i, Slot: s})
			t.Reset(i)
		}
	}
	return evicted
}

// Copy returns a copy of every slot.
func (t *SlotTable) Copy() []Slot {
	out := make([]Slot, len(t.slots))
	copy(out, t.slots)
	return out
}
