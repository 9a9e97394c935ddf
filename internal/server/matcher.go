package server

import (
	"net/netip"
	"time"

	"github.com/space-project/spacerelay/internal/events"
	"github.com/space-project/spacerelay/internal/protocol"
)

// handleHandshake registers peer in a free slot and, once enough peers are
// waiting for the same party size, groups them into a new session.
func (s *Server) handleHandshake(now time.Duration, peer netip.AddrPort, data []byte) {
	h, err := protocol.ParseHandshake(data)
	if err != nil {
		s.stats.ProtocolDrops.Add(1)
		s.logger.Debug().Err(err).Str("peer", peer.String()).Msg("dropping malformed handshake")
		return
	}

	if i, ok := s.table.FindByAddress(peer); ok {
		s.stats.Duplicates.Add(1)
		s.logger.Debug().
			Str("peer", peer.String()).
			Int("slot", i).
			Msg("duplicate handshake ignored")
		return
	}

	if h.PartySize == 0 {
		s.stats.ProtocolDrops.Add(1)
		s.logger.Debug().Str("peer", peer.String()).Msg("dropping handshake with zero party size")
		return
	}

	i, ok := s.table.FindFree()
	if !ok {
		s.stats.CapacityDrops.Add(1)
		s.logger.Warn().
			Str("peer", peer.String()).
			Uint64("party_size", h.PartySize).
			Msg("no free slot, handshake dropped")
		return
	}

	s.table.Claim(i, peer, h.PartySize, now)
	s.stats.HandshakesClaimed.Add(1)
	s.dirty = true

	s.logger.Info().
		Str("peer", peer.String()).
		Int("slot", i).
		Uint64("party_size", h.PartySize).
		Msg("slot registered")

	s.emit(events.EventSlotRegistered, events.SlotRegisteredPayload{
		Index:     i,
		Peer:      peer.String(),
		PartySize: h.PartySize,
	})

	s.match(h.PartySize)
}

// match forms a session from the first partySize pending slots of that size,
// in slot order, and sends every member its assignment.
func (s *Server) match(partySize uint64) {
	pending := s.table.Pending(partySize)
	if uint64(len(pending)) < partySize {
		return
	}

	sessionID := s.nextSessionID
	s.nextSessionID++

	members := make([]events.SessionMember, 0, partySize)
	for ordinal, i := range pending[:partySize] {
		s.table.Assign(i, sessionID)
		slot := s.table.At(i)

		reply := protocol.BuildAssignment(protocol.Assignment{
			Ordinal:   uint64(ordinal),
			PartySize: partySize,
			SessionID: sessionID,
		})
		if _, err := s.conn.WriteToUDPAddrPort(reply, slot.Peer); err != nil {
			s.stats.SendFailures.Add(1)
			s.logger.Warn().
				Err(err).
				Str("peer", slot.Peer.String()).
				Uint64("session_id", sessionID).
				Msg("failed to send assignment")
		}

		members = append(members, events.SessionMember{
			Index:   i,
			Peer:    slot.Peer.String(),
			Ordinal: uint64(ordinal),
		})
	}

	s.stats.SessionsMatched.Add(1)
	s.logger.Info().
		Uint64("session_id", sessionID).
		Uint64("party_size", partySize).
		Msg("session matched")

	s.emit(events.EventSessionMatched, events.SessionMatchedPayload{
		SessionID: sessionID,
		PartySize: partySize,
		Members:   members,
		MatchedAt: time.Now(),
	})
}
