package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrShortPacket is returned when a packet is shorter than its format requires.
	ErrShortPacket = errors.New("packet too short")

	// ErrBadMagic is returned when a packet does not start with Magic.
	ErrBadMagic = errors.New("bad magic")
)

// HasMagic reports whether data starts with the protocol magic.
func HasMagic(data []byte) bool {
	return len(data) >= MagicSize && bytes.Equal(data[:MagicSize], Magic[:])
}

// IsHandshake reports whether a received datagram is a handshake. Anything
// else is relay traffic.
func IsHandshake(data []byte) bool {
	return len(data) >= HandshakeSize && HasMagic(data)
}

// ParseHandshake decodes a handshake packet. Bytes past HandshakeSize are
// ignored.
func ParseHandshake(data []byte) (Handshake, error) {
	if len(data) < HandshakeSize {
		return Handshake{}, fmt.Errorf("handshake: %w (%d < %d bytes)", ErrShortPacket, len(data), HandshakeSize)
	}
	if !HasMagic(data) {
		return Handshake{}, fmt.Errorf("handshake: %w", ErrBadMagic)
	}

	return Handshake{
		PartySize: binary.LittleEndian.Uint64(data[MagicSize:]),
	}, nil
}

// ParseAssignment decodes a session assignment packet.
func ParseAssignment(data []byte) (Assignment, error) {
	if len(data) < AssignmentSize {
		return Assignment{}, fmt.Errorf("assignment: %w (%d < %d bytes)", ErrShortPacket, len(data), AssignmentSize)
	}
	if !HasMagic(data) {
		return Assignment{}, fmt.Errorf("assignment: %w", ErrBadMagic)
	}

	r := bytes.NewReader(data[MagicSize:AssignmentSize])
	var a Assignment
	if err := binary.Read(r, binary.LittleEndian, &a); err != nil {
		return Assignment{}, fmt.Errorf("assignment: %w", err)
	}
	return a, nil
}
