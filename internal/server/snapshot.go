package server

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/space-project/spacerelay/internal/events"
)

// SlotView is the read-only rendering of one slot.
type SlotView struct {
	Index      int              `json:"index"`
	State      events.SlotState `json:"state"`
	Peer       string           `json:"peer,omitempty"`
	PartySize  uint64           `json:"party_size,omitempty"`
	SessionID  uint64           `json:"session_id,omitempty"`
	LastActive time.Duration    `json:"last_active_ns"`
	Idle       time.Duration    `json:"idle_ns"`
}

// SessionView groups the active slots sharing a session id.
type SessionView struct {
	SessionID uint64     `json:"session_id"`
	PartySize uint64     `json:"party_size"`
	Members   []SlotView `json:"members"`
}

// Snapshot is an immutable copy of the slot table published by the relay
// worker after every change. Readers on other goroutines only ever see
// snapshots, never the live table.
type Snapshot struct {
	TakenAt       time.Time     `json:"taken_at"`
	Realtime      time.Duration `json:"realtime_ns"`
	Capacity      int           `json:"capacity"`
	NextSessionID uint64        `json:"next_session_id"`
	Slots         []SlotView    `json:"slots"`
}

func newSnapshot(slots []Slot, realtime time.Duration, nextSessionID uint64) *Snapshot {
	snap := &Snapshot{
		TakenAt:       time.Now(),
		Realtime:      realtime,
		Capacity:      len(slots),
		NextSessionID: nextSessionID,
		Slots:         make([]SlotView, len(slots)),
	}
	for i, s := range slots {
		view := SlotView{Index: i, State: s.State()}
		if s.Occupied {
			view.Peer = s.Peer.String()
			view.PartySize = s.PartySize
			view.SessionID = s.SessionID
			view.LastActive = s.LastActive
			view.Idle = realtime - s.LastActive
		}
		snap.Slots[i] = view
	}
	return snap
}

// Counts returns the number of empty, pending and active slots.
func (s *Snapshot) Counts() (empty, pending, active int) {
	for _, v := range s.Slots {
		switch v.State {
		case events.SlotPending:
			pending++
		case events.SlotActive:
			active++
		default:
			empty++
		}
	}
	return empty, pending, active
}

// Sessions groups active slots by session id, ordered by id.
func (s *Snapshot) Sessions() []SessionView {
	byID := make(map[uint64]*SessionView)
	for _, v := range s.Slots {
		if v.State != events.SlotActive {
			continue
		}
		sess, ok := byID[v.SessionID]
		if !ok {
			sess = &SessionView{SessionID: v.SessionID, PartySize: v.PartySize}
			byID[v.SessionID] = sess
		}
		sess.Members = append(sess.Members, v)
	}

	out := make([]SessionView, 0, len(byID))
	for _, sess := range byID {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Stats holds the relay counters. Every field is updated by the relay worker
// and may be read from any goroutine.
type Stats struct {
	PacketsReceived   atomic.Uint64
	HandshakesClaimed atomic.Uint64
	Duplicates        atomic.Uint64
	ProtocolDrops     atomic.Uint64
	CapacityDrops     atomic.Uint64
	UnknownDrops      atomic.Uint64
	PendingDrops      atomic.Uint64
	OversizeDrops     atomic.Uint64
	PeerResets        atomic.Uint64
	Relayed           atomic.Uint64
	SendFailures      atomic.Uint64
	SessionsMatched   atomic.Uint64
	Evictions         atomic.Uint64
	Iterations        atomic.Uint64
	lastIteration     atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	PacketsReceived   uint64    `json:"packets_received"`
	HandshakesClaimed uint64    `json:"handshakes_claimed"`
	Duplicates        uint64    `json:"duplicate_handshakes"`
	ProtocolDrops     uint64    `json:"protocol_drops"`
	CapacityDrops     uint64    `json:"capacity_drops"`
	UnknownDrops      uint64    `json:"unknown_sender_drops"`
	PendingDrops      uint64    `json:"pending_sender_drops"`
	OversizeDrops     uint64    `json:"oversize_drops"`
	PeerResets        uint64    `json:"peer_resets"`
	Relayed           uint64    `json:"relayed"`
	SendFailures      uint64    `json:"send_failures"`
	SessionsMatched   uint64    `json:"sessions_matched"`
	Evictions         uint64    `json:"evictions"`
	Iterations        uint64    `json:"iterations"`
	LastIteration     time.Time `json:"last_iteration"`
}

// Load copies every counter.
func (s *Stats) Load() StatsSnapshot {
	out := StatsSnapshot{
		PacketsReceived:   s.PacketsReceived.Load(),
		HandshakesClaimed: s.HandshakesClaimed.Load(),
		Duplicates:        s.Duplicates.Load(),
		ProtocolDrops:     s.ProtocolDrops.Load(),
		CapacityDrops:     s.CapacityDrops.Load(),
		UnknownDrops:      s.UnknownDrops.Load(),
		PendingDrops:      s.PendingDrops.Load(),
		OversizeDrops:     s.OversizeDrops.Load(),
		PeerResets:        s.PeerResets.Load(),
		Relayed:           s.Relayed.Load(),
		SendFailures:      s.SendFailures.Load(),
		SessionsMatched:   s.SessionsMatched.Load(),
		Evictions:         s.Evictions.Load(),
		Iterations:        s.Iterations.Load(),
	}
	if ns := s.lastIteration.Load(); ns != 0 {
		out.LastIteration = time.Unix(0, ns)
	}
	return out
}
