package api

import (
	"context"

	"github.com/lysyi3m/claim-comb/app/adapters"
	"github.com/lysyi3m/claim-comb/app/cache"
	"github.com/lysyi3m/claim-comb/app/claim"
	"github.com/lysyi3m/claim-comb/app/source"
	"github.com/lysyi3m/claim-comb/app/tasks"
	"github.com/lysyi3m/claim-comb/app/verify"
)

type Verifier interface {
	Verify(ctx context.Context, input string, mode verify.Mode) (claim.Verdict, error)
}

type SourceCatalog interface {
	tasks.SourceCatalog
	GetConfigs() []*source.Config
	GetConfigCount() int
}

type AdapterRegistry interface {
	tasks.AdapterRegistry
	Count() int
}

type CacheCounter interface {
	Len(ctx context.Context) int
}

var (
	_ Verifier        = (*verify.Engine)(nil)
	_ SourceCatalog   = (*source.ConfigCache)(nil)
	_ AdapterRegistry = (*adapters.Fetcher)(nil)
	_ CacheCounter    = (*cache.Cache)(nil)
)

type Handler struct {
	verifier    Verifier
	configCache SourceCatalog
	registry    AdapterRegistry
	cache       CacheCounter
	scheduler   tasks.TaskSchedulerInterface
}

type verifyRequest struct {
	Input string `json:"input" binding:"required"`
	Mode  string `json:"mode"`
}
