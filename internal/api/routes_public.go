package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/space-project/spacerelay/internal/config"
	"github.com/space-project/spacerelay/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "spacerelay",
		"version": config.Version,
	})
}

// handleServerInfo returns the relay's settings and host information.
func (s *Server) handleServerInfo(c *gin.Context) {
	opts := s.relay.Options()
	snap := s.relay.Snapshot()
	_, pending, active := snap.Counts()
	sysInfo := util.GetSystemInfo()

	c.JSON(http.StatusOK, gin.H{
		"version":         config.Version,
		"relay_addr":      s.cfg.RelayAddr(),
		"capacity":        opts.Capacity,
		"tick_usec":       opts.Tick.Microseconds(),
		"timeout_usec":    opts.Timeout.Microseconds(),
		"echo_sender":     opts.EchoSender,
		"pending_slots":   pending,
		"active_slots":    active,
		"uptime_sec":      int64(time.Since(s.startedAt).Seconds()),
		"history_enabled": s.history != nil,
		"platform":        sysInfo.Platform,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
	})
}
