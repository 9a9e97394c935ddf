package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/space-project/spacerelay/internal/protocol"
)

// DefaultHandshakeRetry is how often Handshake re-sends while waiting for an
// assignment. The server ignores duplicate handshakes from a registered
// address, so re-sending is safe.
const DefaultHandshakeRetry = 250 * time.Millisecond

// Client is a relay client bound to one local UDP socket.
type Client struct {
	conn   *net.UDPConn
	logger zerolog.Logger
	buf    []byte

	// Retry is the handshake re-send interval.
	Retry time.Duration
}

// Dial connects a UDP socket to the relay at addr.
func Dial(addr string) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	return &Client{
		conn: conn,
		logger: log.With().
			Str("component", "client").
			Str("local", conn.LocalAddr().String()).
			Logger(),
		buf:   make([]byte, protocol.MaxUDPPayload),
		Retry: DefaultHandshakeRetry,
	}, nil
}

// LocalAddr returns the client's local address, which is its identity on
// the relay.
func (c *Client) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Handshake registers for a session of partySize players and blocks until
// the relay answers with an assignment or ctx ends.
func (c *Client) Handshake(ctx context.Context, partySize uint64) (protocol.Assignment, error) {
	packet := protocol.BuildHandshake(protocol.Handshake{PartySize: partySize})

	for {
		if _, err := c.conn.Write(packet); err != nil {
			return protocol.Assignment{}, fmt.Errorf("send handshake: %w", err)
		}
		c.logger.Debug().Uint64("party_size", partySize).Msg("handshake sent")

		data, err := c.read(ctx, c.Retry)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) && ctx.Err() == nil {
				continue
			}
			return protocol.Assignment{}, err
		}

		if len(data) != protocol.AssignmentSize || !protocol.HasMagic(data) {
			// Relay traffic from an earlier session; keep waiting.
			continue
		}
		a, err := protocol.ParseAssignment(data)
		if err != nil {
			return protocol.Assignment{}, err
		}
		c.logger.Info().
			Uint64("session_id", a.SessionID).
			Uint64("ordinal", a.Ordinal).
			Uint64("party_size", a.PartySize).
			Msg("session assigned")
		return a, nil
	}
}

// Send writes one relay payload.
func (c *Client) Send(payload []byte) error {
	if _, err := c.conn.Write(payload); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Receive waits for the next datagram until ctx ends. The returned slice is
// a copy.
func (c *Client) Receive(ctx context.Context) ([]byte, error) {
	for {
		data, err := c.read(ctx, time.Second)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) && ctx.Err() == nil {
				continue
			}
			return nil, err
		}
		return data, nil
	}
}

// read waits at most wait (or until ctx's deadline, if sooner) for one datagram.
func (c *Client) read(ctx context.Context, wait time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(wait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetReadDeadline(deadline)

	n, err := c.conn.Read(c.buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	out := make([]byte, n)
	copy(out, c.buf[:n])
	return out, nil
}

// Close closes the client socket.
func (c *Client) Close() error {
	return c.conn.Close()
}
