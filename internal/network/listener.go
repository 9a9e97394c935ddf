// Package network contains the socket plumbing shared by the relay server,
// the monitoring API and the command-line client.
package network

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
)

// ListenRelay binds the relay's UDP socket on addr (host:port) with
// SO_REUSEADDR set. IPv4 hosts bind udp4, anything else binds udp.
func ListenRelay(ctx context.Context, addr string) (*net.UDPConn, error) {
	network := "udp"
	if host, _, err := net.SplitHostPort(addr); err == nil {
		if ip := net.ParseIP(host); ip != nil && ip.To4() != nil {
			network = "udp4"
		}
	}

	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind relay socket on %s: %w", addr, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("unexpected packet conn type %T", pc)
	}

	log.Info().
		Str("network", network).
		Str("addr", conn.LocalAddr().String()).
		Msg("relay socket bound")

	return conn, nil
}

// ListenTCP opens a TCP listener with SO_REUSEADDR set, for the API server.
func ListenTCP(ctx context.Context, addr string) (net.Listener, error) {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}
