// Package schedule runs maintenance jobs on fixed intervals.
package schedule

import (
	"context"
	"log/slog"
	"time"
)

// Job is one pass of periodic work.
type Job func(ctx context.Context) error

// Every runs job each interval until ctx is cancelled. A failed pass is logged
// and retried on the next tick; Every only returns ctx.Err().
func Every(ctx context.Context, name string, interval time.Duration, job Job, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			if err := job(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.ErrorContext(ctx, "scheduled job failed",
					"job", name,
					"duration", time.Since(start),
					"error", err,
				)
				continue
			}
			logger.DebugContext(ctx, "scheduled job completed",
				"job", name,
				"duration", time.Since(start),
			)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
