package server

import "net/netip"

// handleRelay forwards a non-handshake datagram from peer to every member of
// peer's session. Datagrams from unknown or pending peers are dropped.
func (s *Server) handleRelay(peer netip.AddrPort, data []byte) {
	i, ok := s.table.FindByAddress(peer)
	if !ok {
		s.stats.UnknownDrops.Add(1)
		s.logger.Trace().Str("peer", peer.String()).Msg("dropping datagram from unknown peer")
		return
	}

	sessionID := s.table.At(i).SessionID
	if sessionID == 0 {
		s.stats.PendingDrops.Add(1)
		s.logger.Trace().Str("peer", peer.String()).Msg("dropping datagram from pending peer")
		return
	}

	for j := 0; j < s.table.Len(); j++ {
		member := s.table.At(j)
		if !member.Occupied || member.SessionID != sessionID {
			continue
		}
		if j == i && !s.opts.EchoSender {
			continue
		}

		if _, err := s.conn.WriteToUDPAddrPort(data, member.Peer); err != nil {
			s.stats.SendFailures.Add(1)
			s.logger.Warn().
				Err(err).
				Str("peer", member.Peer.String()).
				Uint64("session_id", sessionID).
				Msg("relay send failed")
			continue
		}
		s.stats.Relayed.Add(1)
	}
}
