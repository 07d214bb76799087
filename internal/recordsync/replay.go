package recordsync

import (
	"context"
	"log/slog"
	"time"
)

// DefaultReplayInterval is how often the worker checks for queued writes.
const DefaultReplayInterval = 30 * time.Second

// StartReplayWorker runs a background goroutine that replays the outbox when
// connectivity is restored, and periodically pings the service while writes
// are queued.
func StartReplayWorker(ctx context.Context, c *Coordinator, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReplayInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Outbox replay worker started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				c.replayIfNeeded(ctx)
			case <-c.Restored():
				c.replayIfNeeded(ctx)
			case <-ctx.Done():
				slog.Info("Outbox replay worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (c *Coordinator) replayIfNeeded(ctx context.Context) {
	if c.remote == nil {
		return
	}
	entries, err := c.outbox.ListOutbox(ctx)
	if err != nil {
		c.logger.Error("Replay worker failed to list outbox", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	if !c.Online() {
		if err := c.Probe(ctx); err != nil {
			c.logger.Debug("Replay worker ping failed", "error", err, "queued", len(entries))
			return
		}
	}

	if _, err := c.ReplayOutbox(ctx); err != nil {
		c.logger.Warn("Outbox replay incomplete", "error", err)
	}
}
