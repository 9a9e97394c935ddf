// Package health runs periodic checks on the relay worker and the host, and
// emits heartbeat and stall events for telemetry.
package health

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/space-project/spacerelay/internal/config"
	"github.com/space-project/spacerelay/internal/events"
	"github.com/space-project/spacerelay/internal/server"
	"github.com/space-project/spacerelay/internal/util"
)

// memoryWarnPercent is the host memory use above which a warning is logged.
const memoryWarnPercent = 90.0

// Relay is the read side of the relay worker that the checks inspect.
type Relay interface {
	Snapshot() *server.Snapshot
	Stats() server.StatsSnapshot
	Done() <-chan struct{}
}

// HeartbeatPayload is the payload of EventHeartbeat.
type HeartbeatPayload struct {
	Empty   int                  `json:"empty_slots"`
	Pending int                  `json:"pending_slots"`
	Active  int                  `json:"active_slots"`
	Stats   server.StatsSnapshot `json:"stats"`
}

// Manager runs periodic health checks.
type Manager struct {
	cfg      config.HealthConfig
	eventBus *events.EventBus
	relay    Relay

	stalled bool
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, eventBus *events.EventBus, relay Relay) *Manager {
	return &Manager{
		cfg:      cfg.Health,
		eventBus: eventBus,
		relay:    relay,
	}
}

// Start runs every check on its own ticker until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	stallThreshold := time.Duration(m.cfg.StallThresholdMs) * time.Millisecond
	stallInterval := stallThreshold / 2
	if stallInterval < 100*time.Millisecond {
		stallInterval = 100 * time.Millisecond
	}

	checks := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"heartbeat", time.Duration(m.cfg.HeartbeatIntervalSec) * time.Second, m.heartbeat},
		{"relay_stall", stallInterval, func(ctx context.Context) { m.checkStall(ctx, time.Now()) }},
		{"host_resources", time.Minute, m.checkHostResources},
	}

	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		go func() {
			ticker := time.NewTicker(check.interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()
	log.Info().Msg("health check manager stopped")
}

// heartbeat emits the current slot counts and counters.
func (m *Manager) heartbeat(ctx context.Context) {
	empty, pending, active := m.relay.Snapshot().Counts()
	payload := HeartbeatPayload{
		Empty:   empty,
		Pending: pending,
		Active:  active,
		Stats:   m.relay.Stats(),
	}

	log.Debug().
		Int("pending", pending).
		Int("active", active).
		Uint64("relayed", payload.Stats.Relayed).
		Msg("heartbeat")

	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventHeartbeat,
		Source:  "health_check",
		Payload: payload,
	})
}

// checkStall reports whether the relay worker has gone longer than the stall
// threshold without starting a loop iteration. It emits EventRelayStalled
// once per stall.
func (m *Manager) checkStall(ctx context.Context, now time.Time) bool {
	select {
	case <-m.relay.Done():
		return false
	default:
	}

	last := m.relay.Stats().LastIteration
	if last.IsZero() {
		return false
	}

	since := now.Sub(last)
	threshold := time.Duration(m.cfg.StallThresholdMs) * time.Millisecond
	if since <= threshold {
		if m.stalled {
			log.Info().Msg("relay worker recovered")
		}
		m.stalled = false
		return false
	}

	if !m.stalled {
		m.stalled = true
		log.Warn().Dur("since", since).Msg("relay worker stalled")
		m.eventBus.Emit(ctx, events.Event{
			Type:    events.EventRelayStalled,
			Source:  "health_check",
			Payload: events.RelayStalledPayload{Since: since},
		})
	}
	return true
}

// checkHostResources logs host CPU and memory use.
func (m *Manager) checkHostResources(ctx context.Context) {
	cpuPercent, err := util.GetCPUUsage()
	if err != nil {
		log.Debug().Err(err).Msg("cpu usage check failed")
	}

	mem, err := util.GetMemoryUsage()
	if err != nil {
		log.Debug().Err(err).Msg("memory usage check failed")
		return
	}

	evt := log.Debug()
	if mem.UsedPercent > memoryWarnPercent {
		evt = log.Warn()
	}
	evt.Float64("cpu_percent", cpuPercent).
		Float64("memory_percent", mem.UsedPercent).
		Msg("host resources")
}
