// Package session advances the auction in discrete sessions.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	tomb "gopkg.in/tomb.v2"
)

// Runner clears one session. It is never called concurrently.
type Runner func(ctx context.Context, session uint64, now time.Time)

// Clock fires the runner once per elapsed interval. Tick is the only entry
// point that runs sessions; Run merely calls it from a real timer.
type Clock struct {
	interval time.Duration
	runner   Runner
	log      zerolog.Logger

	sessionMu sync.Mutex // held while a session runs

	mu      sync.RWMutex
	counter uint64
	next    time.Time
}

// New arms the clock for the first grid point after start.
func New(interval time.Duration, start time.Time, runner Runner, log zerolog.Logger) *Clock {
	return &Clock{
		interval: interval,
		runner:   runner,
		log:      log,
		next:     start.Truncate(interval).Add(interval),
	}
}

// Tick runs at most one session when now has reached the armed deadline and
// re-arms for the next grid point after now. Missed intervals are skipped,
// not replayed.
func (c *Clock) Tick(ctx context.Context, now time.Time) bool {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	c.mu.RLock()
	due, session := !now.Before(c.next), c.counter
	c.mu.RUnlock()
	if !due {
		return false
	}

	started := time.Now()
	c.runner(ctx, session, now)

	c.mu.Lock()
	c.counter++
	c.next = now.Truncate(c.interval).Add(c.interval)
	next := c.next
	c.mu.Unlock()

	c.log.Info().
		Uint64("session", session).
		Dur("took", time.Since(started)).
		Time("next", next).
		Msg("session cleared")
	return true
}

// Counter is the number of the next session to run.
func (c *Clock) Counter() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counter
}

// Next is the armed deadline.
func (c *Clock) Next() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.next
}

func (c *Clock) Interval() time.Duration {
	return c.interval
}

// Run drives Tick from a timer until t is dying.
func (c *Clock) Run(t *tomb.Tomb) error {
	ctx := t.Context(nil)
	timer := time.NewTimer(time.Until(c.Next()))
	defer timer.Stop()

	for {
		select {
		case <-t.Dying():
			return nil
		case now := <-timer.C:
			c.Tick(ctx, now)
			timer.Reset(time.Until(c.Next()))
		}
	}
}
