package tasks

import (
	"context"
	"fmt"
	"log/slog"
)

type PurgeCacheTask struct {
	Task
	cache CachePurger
}

func NewPurgeCacheTask(cache CachePurger) *PurgeCacheTask {
	return &PurgeCacheTask{
		Task:  NewTask(TaskTypePurgeCache, "verdicts"),
		cache: cache,
	}
}

func (t *PurgeCacheTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	removed, err := t.cache.Purge(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge verdict cache: %w", err)
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"duration", t.GetDuration(),
		"removed", removed)

	return nil
}
