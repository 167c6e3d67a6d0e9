package adapters

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/claim-comb/app/evidence"
	"github.com/lysyi3m/claim-comb/app/source"
)

type registration struct {
	adapter Adapter
	limit   int
	timeout time.Duration
	filters []source.Filter
}

// Fetcher fans a query out to every registered adapter and collects the
// per-adapter results in registration order.
type Fetcher struct {
	defaultTimeout time.Duration
	opts           []Option
	filterer       *Filterer

	mu            sync.RWMutex
	registrations []registration
}

func NewFetcher(defaultTimeout time.Duration, opts ...Option) *Fetcher {
	if defaultTimeout <= 0 {
		defaultTimeout = source.DefaultTimeout * time.Second
	}

	return &Fetcher{
		defaultTimeout: defaultTimeout,
		opts:           opts,
		filterer:       NewFilterer(),
	}
}

// Reload replaces the adapter set with one adapter per config. Configs
// whose adapter cannot be built are skipped with a warning. It returns the
// number of adapters registered.
func (f *Fetcher) Reload(configs []*source.Config) int {
	registrations := make([]registration, 0, len(configs))

	for _, config := range configs {
		adapter, err := New(config, f.opts...)
		if err != nil {
			slog.Warn("Source disabled", "source", config.Name, "error", err)
			continue
		}

		registrations = append(registrations, registration{
			adapter: adapter,
			limit:   config.Settings.MaxItems,
			timeout: f.timeoutFor(config.Settings.Timeout),
			filters: config.Filters,
		})
	}

	f.mu.Lock()
	f.registrations = registrations
	f.mu.Unlock()

	slog.Info("Source adapters loaded", "count", len(registrations))
	return len(registrations)
}

// Register appends an adapter. A zero timeout uses the fetcher default.
func (f *Fetcher) Register(adapter Adapter, limit int, timeout time.Duration) {
	if timeout <= 0 {
		timeout = f.defaultTimeout
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations = append(f.registrations, registration{adapter: adapter, limit: limit, timeout: timeout})
}

func (f *Fetcher) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.registrations)
}

// Fetch runs every adapter concurrently, each under its own timeout. A
// failing or slow adapter contributes an empty batch. If ctx is cancelled
// the partial results are discarded and ctx.Err() is returned.
func (f *Fetcher) Fetch(ctx context.Context, query string) ([][]evidence.Item, error) {
	f.mu.RLock()
	registrations := make([]registration, len(f.registrations))
	copy(registrations, f.registrations)
	f.mu.RUnlock()

	results := make([][]evidence.Item, len(registrations))

	var g errgroup.Group
	for i, reg := range registrations {
		g.Go(func() error {
			results[i] = f.search(ctx, reg, query)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

func (f *Fetcher) search(ctx context.Context, reg registration, query string) []evidence.Item {
	started := time.Now()

	searchCtx, cancel := context.WithTimeout(ctx, reg.timeout)
	defer cancel()

	items, err := reg.adapter.Search(searchCtx, query, reg.limit)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Source search failed",
				"source", reg.adapter.ID(),
				"duration", time.Since(started),
				"error", err)
		}
		return []evidence.Item{}
	}

	items = f.filterer.Run(items, reg.filters)

	if reg.limit > 0 && len(items) > reg.limit {
		items = items[:reg.limit]
	}

	slog.Debug("Source search completed",
		"source", reg.adapter.ID(),
		"items", len(items),
		"duration", time.Since(started))

	return items
}

func (f *Fetcher) timeoutFor(seconds int) time.Duration {
	if seconds <= 0 {
		return f.defaultTimeout
	}
	return time.Duration(seconds) * time.Second
}
