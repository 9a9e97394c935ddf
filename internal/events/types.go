// Package events defines the event types emitted by the relay worker and the
// bus that fans them out to telemetry and history subscribers.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Slot lifecycle events
	EventSlotRegistered EventType = "slot_registered"
	EventSessionMatched EventType = "session_matched"
	EventSlotEvicted    EventType = "slot_evicted"

	// Worker events
	EventRelayStopped EventType = "relay_stopped"
	EventRelayStalled EventType = "relay_stalled"

	// Notification events
	EventHeartbeat EventType = "heartbeat"

	// System events
	EventShutdown EventType = "shutdown"
)

// SlotState represents the lifecycle state of a player slot.
type SlotState int

const (
	SlotEmpty SlotState = iota
	SlotPending
	SlotActive
)

// slotStateStrings maps SlotState values to their lowercase JSON string representation.
var slotStateStrings = map[SlotState]string{
	SlotEmpty:   "empty",
	SlotPending: "pending",
	SlotActive:  "active",
}

// String returns the string representation of SlotState.
func (s SlotState) String() string {
	if str, ok := slotStateStrings[s]; ok {
		return str
	}
	return "empty"
}

// MarshalJSON serializes SlotState as a JSON string (e.g. "pending").
func (s SlotState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// SlotRegisteredPayload is emitted when a handshake claims a free slot.
type SlotRegisteredPayload struct {
	Index     int    `json:"index"`
	Peer      string `json:"peer"`
	PartySize uint64 `json:"party_size"`
}

// SessionMember describes one slot assigned to a session.
type SessionMember struct {
	Index   int    `json:"index"`
	Peer    string `json:"peer"`
	Ordinal uint64 `json:"ordinal"`
}

// SessionMatchedPayload is emitted when pending slots are grouped into a session.
type SessionMatchedPayload struct {
	SessionID uint64          `json:"session_id"`
	PartySize uint64          `json:"party_size"`
	Members   []SessionMember `json:"members"`
	MatchedAt time.Time       `json:"matched_at"`
}

// SlotEvictedPayload is emitted when a slot is reset after inactivity.
type SlotEvictedPayload struct {
	Index     int           `json:"index"`
	Peer      string        `json:"peer"`
	PartySize uint64        `json:"party_size"`
	SessionID uint64        `json:"session_id"`
	Idle      time.Duration `json:"idle_ns"`
	EvictedAt time.Time     `json:"evicted_at"`
}

// RelayStoppedPayload is emitted once when the relay worker exits.
type RelayStoppedPayload struct {
	Error string `json:"error,omitempty"`
}

// RelayStalledPayload is emitted by the health check when the worker has not
// completed a loop iteration in time.
type RelayStalledPayload struct {
	Since time.Duration `json:"since_ns"`
}
