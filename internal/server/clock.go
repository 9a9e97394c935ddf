package server

import "time"

// tickClock is the poller's monotonic clock. Realtime advances in whole
// ticks measured from start, so every timestamp in the slot table is a
// multiple of the tick.
type tickClock struct {
	tick  time.Duration
	start time.Time
	ticks uint64
}

func newTickClock(tick time.Duration, start time.Time) tickClock {
	return tickClock{tick: tick, start: start}
}

// Advance moves the clock to now. It returns the realtime in whole ticks and
// the time left until the next tick boundary.
func (c *tickClock) Advance(now time.Time) (realtime, remaining time.Duration) {
	elapsed := now.Sub(c.start)
	if elapsed < 0 {
		elapsed = 0
	}
	if due := uint64(elapsed / c.tick); due > c.ticks {
		c.ticks = due
	}

	realtime = time.Duration(c.ticks) * c.tick
	remaining = realtime + c.tick - elapsed
	if remaining <= 0 {
		remaining = c.tick
	}
	return realtime, remaining
}
