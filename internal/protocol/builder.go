package protocol

import (
	"bytes"
	"encoding/binary"
)

// PacketBuilder constructs outgoing packets field by field.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// WriteMagic writes the 6-byte protocol magic.
func (b *PacketBuilder) WriteMagic() *PacketBuilder {
	b.buf.Write(Magic[:])
	return b
}

// WriteUint64 writes a uint64 in little-endian order.
func (b *PacketBuilder) WriteUint64(v uint64) *PacketBuilder {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// Build returns the constructed packet bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// ---- Pre-built packet constructors ----

// BuildHandshake creates a handshake packet.
// Format: [magic:6][party_size:8]
func BuildHandshake(h Handshake) []byte {
	return NewPacketBuilder().
		WriteMagic().
		WriteUint64(h.PartySize).
		Build()
}

// BuildAssignment creates a session assignment packet.
// Format: [magic:6][ordinal:8][party_size:8][session_id:8]
func BuildAssignment(a Assignment) []byte {
	return NewPacketBuilder().
		WriteMagic().
		WriteUint64(a.Ordinal).
		WriteUint64(a.PartySize).
		WriteUint64(a.SessionID).
		Build()
}
