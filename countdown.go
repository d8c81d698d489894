package nodescan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const imminentLabel = "Epoch change imminent"

// Countdown tracks the estimated seconds left in the current epoch. It is
// decremented locally every second and reset whenever fresh epoch data
// arrives.
type Countdown struct {
	mu        sync.Mutex
	remaining int64
	started   bool
}

// NewCountdown starts a countdown at seconds. A countdown created at zero
// counts as not started until the first Reset.
func NewCountdown(seconds int64) *Countdown {
	if seconds < 0 {
		seconds = 0
	}
	return &Countdown{remaining: seconds, started: seconds > 0}
}

// Reset replaces the remaining time. Negative values are treated as zero.
func (c *Countdown) Reset(seconds int64) {
	if seconds < 0 {
		seconds = 0
	}
	c.mu.Lock()
	c.remaining = seconds
	c.started = true
	c.mu.Unlock()
}

// Started reports whether the countdown has been set from epoch data.
func (c *Countdown) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Tick removes one second, stopping at zero.
func (c *Countdown) Tick() {
	c.mu.Lock()
	if c.remaining > 0 {
		c.remaining--
	}
	c.mu.Unlock()
}

// Remaining returns the seconds left.
func (c *Countdown) Remaining() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Label renders the remaining time, e.g. "1d 02h 03m 04s".
func (c *Countdown) Label() string {
	return formatCountdown(c.Remaining())
}

// Run ticks once per second until ctx is done.
func (c *Countdown) Run(ctx context.Context, clk clock.Clock) {
	if clk == nil {
		clk = clock.New()
	}
	ticker := clk.Ticker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

func formatCountdown(seconds int64) string {
	if seconds <= 0 {
		return imminentLabel
	}
	days := seconds / 86400
	hours := seconds % 86400 / 3600
	minutes := seconds % 3600 / 60
	secs := seconds % 60
	if days > 0 {
		return fmt.Sprintf("%dd %02dh %02dm %02ds", days, hours, minutes, secs)
	}
	if hours > 0 {
		return fmt.Sprintf("%02dh %02dm %02ds", hours, minutes, secs)
	}
	return fmt.Sprintf("%02dm %02ds", minutes, secs)
}
