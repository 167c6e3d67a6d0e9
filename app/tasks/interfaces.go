package tasks

import (
	"context"

	"github.com/lysyi3m/claim-comb/app/adapters"
	"github.com/lysyi3m/claim-comb/app/cache"
	"github.com/lysyi3m/claim-comb/app/source"
)

// TaskSchedulerInterface is the part of the scheduler the HTTP layer uses
// to queue on-demand work.
//
//	scheduler := NewScheduler(resultCache, time.Hour, 2)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueTask(NewSyncSourcesTask(configCache, fetcher))
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}

type SourceCatalog interface {
	Run() error
	GetEnabledConfigs() []*source.Config
}

type AdapterRegistry interface {
	Reload(configs []*source.Config) int
}

type CachePurger interface {
	Purge(ctx context.Context) (int, error)
}

var (
	_ SourceCatalog   = (*source.ConfigCache)(nil)
	_ AdapterRegistry = (*adapters.Fetcher)(nil)
	_ CachePurger     = (*cache.Cache)(nil)
)
