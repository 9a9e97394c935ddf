// Package protocol implements the datagram formats spoken between spacerelay
// and its clients. Every integer is a fixed-width unsigned value in
// little-endian byte order; there is no length prefix and no padding.
//
// Handshake (client -> server), at least 14 bytes:
//
//	[magic:6]["space\x00"][party_size:8]
//
// Session assignment (server -> client), exactly 30 bytes:
//
//	[magic:6][ordinal:8][party_size:8][session_id:8]
//
// Any other datagram is relay traffic and is forwarded untouched.
package protocol

// Magic is the 6-byte prefix identifying handshake and assignment packets.
var Magic = [MagicSize]byte{'s', 'p', 'a', 'c', 'e', 0}

const (
	// MagicSize is the length of the magic prefix in bytes.
	MagicSize = 6

	// HandshakeSize is the minimum length of a handshake packet.
	HandshakeSize = MagicSize + 8

	// AssignmentSize is the exact length of a session assignment packet.
	AssignmentSize = MagicSize + 3*8

	// MaxDatagramSize is the default relay receive limit. Larger datagrams
	// are dropped, never truncated.
	MaxDatagramSize = 4 * 1024

	// MaxUDPPayload is the largest payload a UDP datagram can carry.
	MaxUDPPayload = 65535
)

// Handshake is a client's request to be matched into a session of
// PartySize players.
type Handshake struct {
	PartySize uint64
}

// Assignment tells a client which session it was matched into and its
// 0-based position inside that session.
type Assignment struct {
	Ordinal   uint64
	PartySize uint64
	SessionID uint64
}
