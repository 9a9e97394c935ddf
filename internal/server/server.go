package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/space-project/spacerelay/internal/config"
	"github.com/space-project/spacerelay/internal/events"
	"github.com/space-project/spacerelay/internal/protocol"
	"github.com/space-project/spacerelay/internal/util"
)

// PacketConn is the datagram socket the relay worker drives.
// *net.UDPConn satisfies it.
type PacketConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// Options tune the relay worker.
type Options struct {
	Capacity   int
	Tick       time.Duration
	Timeout    time.Duration
	BufferSize int
	EchoSender bool
}

// OptionsFromConfig derives worker options from the relay config section.
func OptionsFromConfig(cfg config.RelayConfig) Options {
	return Options{
		Capacity:   cfg.Capacity,
		Tick:       cfg.Tick(),
		Timeout:    cfg.Timeout(),
		BufferSize: cfg.BufferSize,
		EchoSender: cfg.EchoSender,
	}
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = config.DefaultCapacity
	}
	if o.Tick <= 0 {
		o.Tick = time.Duration(config.DefaultTickUsec) * time.Microsecond
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(config.DefaultTimeoutUs) * time.Microsecond
	}
	if o.BufferSize <= 0 {
		o.BufferSize = protocol.MaxDatagramSize
	}
	return o
}

// Server is the matchmaking relay. A single worker goroutine started by
// Start owns the slot table and the session counter; everything else reads
// the published Snapshot and Stats.
type Server struct {
	opts   Options
	conn   PacketConn
	bus    *events.EventBus
	logger zerolog.Logger

	// Owned by the worker.
	table         *SlotTable
	nextSessionID uint64
	clock         tickClock
	realtime      time.Duration
	buf           []byte
	dirty         bool

	started  atomic.Bool
	stopping atomic.Bool
	done     chan struct{}
	err      error

	snapshot atomic.Pointer[Snapshot]
	stats    Stats
}

// New creates a relay server on an already bound socket. bus may be nil.
func New(conn PacketConn, opts Options, bus *events.EventBus) *Server {
	opts = opts.withDefaults()

	s := &Server{
		opts:          opts,
		conn:          conn,
		bus:           bus,
		logger:        util.ComponentLogger("relay"),
		table:         NewSlotTable(opts.Capacity),
		nextSessionID: 1,
		clock:         newTickClock(opts.Tick, time.Now()),
		buf:           make([]byte, opts.BufferSize+1), // one spare byte detects oversize datagrams
		done:          make(chan struct{}),
	}
	s.publish()
	return s
}

// Start launches the worker goroutine. It fails if called more than once.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("relay already started")
	}

	s.logger.Info().
		Str("addr", s.conn.LocalAddr().String()).
		Int("capacity", s.opts.Capacity).
		Dur("tick", s.opts.Tick).
		Dur("timeout", s.opts.Timeout).
		Bool("echo_sender", s.opts.EchoSender).
		Msg("relay started")

	go s.run()
	return nil
}

// Join blocks until the worker exits and returns the fatal error that ended
// it, or nil after Stop. Join returns nil immediately if Start was never
// called.
func (s *Server) Join() error {
	if !s.started.Load() {
		return nil
	}
	<-s.done
	return s.err
}

// Stop asks the worker to exit and closes the socket so a blocked receive
// returns at once. It is safe to call more than once.
func (s *Server) Stop() {
	if s.stopping.Swap(true) {
		return
	}
	s.logger.Info().Msg("stopping relay")
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn().Err(err).Msg("failed to close relay socket")
	}
}

// Done is closed when the worker exits.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns the latest published copy of the slot table.
func (s *Server) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Stats returns the current counters.
func (s *Server) Stats() StatsSnapshot {
	return s.stats.Load()
}

// Options returns the effective worker options.
func (s *Server) Options() Options {
	return s.opts
}

func (s *Server) run() {
	defer close(s.done)
	defer func() {
		payload := events.RelayStoppedPayload{}
		if s.err != nil {
			payload.Error = s.err.Error()
			s.logger.Error().Err(s.err).Msg("relay stopped on fatal error")
		} else {
			s.logger.Info().Msg("relay stopped")
		}
		s.emit(events.EventRelayStopped, payload)
	}()

	for !s.stopping.Load() {
		if err := s.iterate(); err != nil {
			if s.stopping.Load() && errors.Is(err, net.ErrClosed) {
				return
			}
			s.err = err
			return
		}
	}
}

// iterate runs one receive, dispatch, evict cycle. The read deadline at the
// next tick boundary is the loop's sleep.
func (s *Server) iterate() error {
	s.stats.Iterations.Add(1)
	s.stats.lastIteration.Store(time.Now().UnixNano())

	_, remaining := s.clock.Advance(time.Now())
	if err := s.conn.SetReadDeadline(time.Now().Add(remaining)); err != nil {
		return fmt.Errorf("relay set read deadline: %w", err)
	}

	n, peer, err := s.conn.ReadFromUDPAddrPort(s.buf)
	s.realtime, _ = s.clock.Advance(time.Now())

	switch {
	case err == nil && n > s.opts.BufferSize:
		s.stats.PacketsReceived.Add(1)
		s.stats.OversizeDrops.Add(1)
		s.logger.Debug().
			Str("peer", peer.String()).
			Int("limit", s.opts.BufferSize).
			Msg("dropping oversize datagram")
	case err == nil:
		s.dispatch(peer, s.buf[:n])
	case isTimeout(err):
	case isPeerReset(err):
		// ICMP unreachable from an earlier send; the socket is still usable.
		s.stats.PeerResets.Add(1)
		s.logger.Debug().Err(err).Msg("ignoring peer reset on receive")
	default:
		return fmt.Errorf("relay receive: %w", err)
	}

	s.evict()
	if s.dirty {
		s.publish()
		s.dirty = false
	}
	return nil
}

// dispatch refreshes the sender's slot and hands the datagram to the matcher
// or the router.
func (s *Server) dispatch(peer netip.AddrPort, data []byte) {
	s.stats.PacketsReceived.Add(1)
	peer = netip.AddrPortFrom(peer.Addr().Unmap(), peer.Port())

	if i, ok := s.table.FindByAddress(peer); ok {
		s.table.Touch(i, s.realtime)
		s.dirty = true
	}

	if protocol.IsHandshake(data) {
		s.handleHandshake(s.realtime, peer, data)
		return
	}
	s.handleRelay(peer, data)
}

func (s *Server) evict() {
	evicted := s.table.EvictStale(s.realtime, s.opts.Timeout)
	if len(evicted) == 0 {
		return
	}
	s.dirty = true

	for _, e := range evicted {
		idle := s.realtime - e.Slot.LastActive
		s.stats.Evictions.Add(1)
		s.logger.Info().
			Int("slot", e.Index).
			Str("peer", e.Slot.Peer.String()).
			Uint64("session_id", e.Slot.SessionID).
			Dur("idle", idle).
			Msg("slot evicted")

		s.emit(events.EventSlotEvicted, events.SlotEvictedPayload{
			Index:     e.Index,
			Peer:      e.Slot.Peer.String(),
			PartySize: e.Slot.PartySize,
			SessionID: e.Slot.SessionID,
			Idle:      idle,
			EvictedAt: time.Now(),
		})
	}
}

func (s *Server) publish() {
	s.snapshot.Store(newSnapshot(s.table.Copy(), s.realtime, s.nextSessionID))
}

func (s *Server) emit(eventType events.EventType, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(context.Background(), events.Event{
		Type:    eventType,
		Source:  "relay",
		Payload: payload,
	})
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
