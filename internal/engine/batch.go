package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ProcessScheduledSteps runs one scheduler pass: it selects due executions and
// processes each on a bounded worker pool. It returns the number of
// executions whose step outcome this pass committed. Failures of individual
// executions are recorded on their rows and never returned here.
func (e *Engine) ProcessScheduledSteps(ctx context.Context) (int, error) {
	limit := e.config.BatchSize
	if e.breaker != nil {
		limit = e.breaker.batchLimit(limit)
		if limit == 0 {
			e.logger.WarnContext(ctx, "email provider circuit open, skipping pass")
			return 0, nil
		}
	}

	due, err := e.store.ListDueExecutions(ctx, e.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list due executions: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	pool := NewWorkerPool(e.config.Concurrency, func(r any) {
		e.logger.ErrorContext(ctx, "worker panic", slog.Any("panic", r))
	})

	var processed atomic.Int64
	for _, exec := range due {
		exec := exec
		err := pool.Submit(ctx, func(ctx context.Context) error {
			committed, err := e.processExecution(ctx, exec)
			if committed {
				processed.Add(1)
			}
			return err
		})
		if err != nil {
			// Cancelled mid-pass: unsubmitted rows stay due for the next pass.
			break
		}
	}
	pool.Shutdown()

	m := pool.Metrics()
	e.logger.InfoContext(ctx, "scheduler pass finished",
		slog.Int("due", len(due)),
		slog.Int64("processed", processed.Load()),
		slog.Int64("failed", m.Failed))

	return int(processed.Load()), ctx.Err()
}
