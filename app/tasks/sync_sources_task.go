package tasks

import (
	"context"
	"fmt"
	"log/slog"
)

type SyncSourcesTask struct {
	Task
	catalog  SourceCatalog
	registry AdapterRegistry
}

func NewSyncSourcesTask(catalog SourceCatalog, registry AdapterRegistry) *SyncSourcesTask {
	return &SyncSourcesTask{
		Task:     NewTask(TaskTypeSyncSources, "sources"),
		catalog:  catalog,
		registry: registry,
	}
}

// Execute reloads the source catalogue from disk and rebuilds the adapter
// set. A catalogue that fails validation leaves the current adapters in
// place.
func (t *SyncSourcesTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := t.catalog.Run(); err != nil {
		slog.Error("Task failed", "type", t.GetType(), "error", err)
		return fmt.Errorf("failed to reload source configurations: %w", err)
	}

	configs := t.catalog.GetEnabledConfigs()
	registered := t.registry.Reload(configs)

	slog.Info("Task completed",
		"type", t.GetType(),
		"duration", t.GetDuration(),
		"enabled", len(configs),
		"adapters", registered)

	return nil
}
