//go:build unix

package server

import (
	"errors"
	"syscall"
)

// isPeerReset reports whether a receive failed because of an ICMP error
// queued by an earlier send rather than a fault of the socket itself.
func isPeerReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}
