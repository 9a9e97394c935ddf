//go:build !unix && !windows

package server

func isPeerReset(error) bool {
	return false
}
