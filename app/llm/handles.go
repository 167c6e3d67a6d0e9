package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/singleflight"
)

// Handle is an initialized model client. Model is the name actually sent
// to the provider, which differs from the configured name when discovery
// picked a fallback.
type Handle struct {
	Name    string
	Version string
	Model   string
	client  *openai.Client
}

type HandleFactory func(ctx context.Context, name, version string) (*Handle, error)

// HandleCache keeps one Handle per model name. A handle is replaced when it
// is requested with a different version, or dropped through Invalidate.
type HandleCache struct {
	mu      sync.RWMutex
	handles map[string]*Handle
	group   singleflight.Group
	factory HandleFactory
}

func NewHandleCache(factory HandleFactory) *HandleCache {
	return &HandleCache{
		handles: make(map[string]*Handle),
		factory: factory,
	}
}

func (hc *HandleCache) Get(ctx context.Context, name, version string) (*Handle, error) {
	hc.mu.RLock()
	handle, ok := hc.handles[name]
	hc.mu.RUnlock()

	if ok && handle.Version == version {
		return handle, nil
	}

	result, err, _ := hc.group.Do(name+"@"+version, func() (interface{}, error) {
		hc.mu.RLock()
		existing, ok := hc.handles[name]
		hc.mu.RUnlock()
		if ok && existing.Version == version {
			return existing, nil
		}

		created, err := hc.factory(ctx, name, version)
		if err != nil {
			return nil, err
		}

		hc.mu.Lock()
		hc.handles[name] = created
		hc.mu.Unlock()

		if existing != nil {
			slog.Info("Model handle replaced", "model", name, "old_version", existing.Version, "version", version)
		} else {
			slog.Debug("Model handle initialized", "model", name, "resolved", created.Model, "version", version)
		}
		return created, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize model %s: %w", name, err)
	}

	return result.(*Handle), nil
}

func (hc *HandleCache) Invalidate(name string) {
	hc.mu.Lock()
	delete(hc.handles, name)
	hc.mu.Unlock()
}

func (hc *HandleCache) Len() int {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return len(hc.handles)
}
