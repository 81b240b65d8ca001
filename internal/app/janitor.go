package app

import (
	"context"
	"time"

	"github.com/raysh454/perfsandbox/internal/logging"
)

// Evict drops sessions that ended more than SessionRetention before now,
// together with their artifact namespace and share aliases. Namespaces on
// disk that belong to no retained session and are older than the retention
// are swept as well. It returns the number of evicted sessions.
func (c *Coordinator) Evict(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-c.cfg.SessionRetention)

	c.mu.Lock()
	var expired []string
	keep := make(map[string]bool, len(c.sessions))
	for id, sess := range c.sessions {
		if sess.endedBefore(cutoff) {
			expired = append(expired, id)
			delete(c.sessions, id)
			continue
		}
		keep[id] = true
	}
	c.mu.Unlock()

	forgetter, _ := c.publisher.(Forgetter)
	for _, id := range expired {
		if err := c.store.Remove(id); err != nil {
			c.logger.Warn("namespace not removed", logging.F("session_id", id), logging.Err(err))
		}
		if forgetter != nil {
			if err := forgetter.Forget(ctx, id); err != nil {
				c.logger.Warn("shares not removed", logging.F("session_id", id), logging.Err(err))
			}
		}
	}

	swept, err := c.store.Sweep(c.cfg.SessionRetention, keep)
	if err != nil {
		c.logger.Warn("artifact sweep failed", logging.Err(err))
	}
	if len(expired) > 0 || len(swept) > 0 {
		c.logger.Info("sessions evicted",
			logging.F("sessions", len(expired)),
			logging.F("orphans", len(swept)))
	}
	return len(expired)
}

// RunJanitor calls Evict every SweepInterval until ctx is done.
func (c *Coordinator) RunJanitor(ctx context.Context) {
	interval := c.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Evict(ctx, c.now())
		}
	}
}
