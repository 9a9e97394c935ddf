//go:build windows

package server

import (
	"errors"
	"syscall"
)

// wsaeconnreset is reported by recvfrom when an earlier send drew an ICMP
// port unreachable.
const wsaeconnreset = syscall.Errno(10054)

// isPeerReset reports whether a receive failed because of an ICMP error
// queued by an earlier send rather than a fault of the socket itself.
func isPeerReset(err error) bool {
	return errors.Is(err, wsaeconnreset) || errors.Is(err, syscall.ECONNRESET)
}
