package adapters

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lysyi3m/claim-comb/app/evidence"
	"github.com/lysyi3m/claim-comb/app/source"
)

type stubAdapter struct {
	id    string
	items []evidence.Item
	err   error
	delay time.Duration
	calls atomic.Int32
	limit atomic.Int32
}

func (s *stubAdapter) ID() string { return s.id }

func (s *stubAdapter) Search(ctx context.Context, query string, limit int) ([]evidence.Item, error) {
	s.calls.Add(1)
	s.limit.Store(int32(limit))

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

func TestFetcherCollectsInRegistrationOrder(t *testing.T) {
	fetcher := NewFetcher(time.Second)

	slow := &stubAdapter{id: "slow", delay: 20 * time.Millisecond, items: []evidence.Item{{Title: "slow item"}}}
	fast := &stubAdapter{id: "fast", items: []evidence.Item{{Title: "fast item"}}}
	fetcher.Register(slow, 5, 0)
	fetcher.Register(fast, 5, 0)

	batches, err := fetcher.Fetch(context.Background(), "query")
	if err != nil {
		t.Fatal(err)
	}

	if len(batches) != 2 {
		t.Fatalf("Expected 2 batches, got %d", len(batches))
	}
	if batches[0][0].Title != "slow item" || batches[1][0].Title != "fast item" {
		t.Errorf("Expected batches in registration order, got %v", batches)
	}
	if slow.limit.Load() != 5 {
		t.Errorf("Expected limit 5 passed to adapter, got %d", slow.limit.Load())
	}
}

func TestFetcherDegradesFailuresToEmpty(t *testing.T) {
	fetcher := NewFetcher(time.Second)

	failing := &stubAdapter{id: "failing", err: ErrSourceUnavailable}
	timingOut := &stubAdapter{id: "timeout", delay: time.Second, items: []evidence.Item{{Title: "too late"}}}
	healthy := &stubAdapter{id: "healthy", items: []evidence.Item{{Title: "a"}, {Title: "b"}, {Title: "c"}}}

	fetcher.Register(failing, 5, 0)
	fetcher.Register(timingOut, 5, 10*time.Millisecond)
	fetcher.Register(healthy, 2, 0)

	started := time.Now()
	batches, err := fetcher.Fetch(context.Background(), "query")
	if err != nil {
		t.Fatal(err)
	}

	if elapsed := time.Since(started); elapsed > 500*time.Millisecond {
		t.Errorf("Expected per-adapter timeout to bound the fetch, took %v", elapsed)
	}
	if len(batches[0]) != 0 {
		t.Errorf("Expected empty batch for failing adapter, got %d items", len(batches[0]))
	}
	if len(batches[1]) != 0 {
		t.Errorf("Expected empty batch for timed out adapter, got %d items", len(batches[1]))
	}
	if len(batches[2]) != 2 {
		t.Errorf("Expected healthy batch capped at 2, got %d items", len(batches[2]))
	}
}

func TestFetcherCancellation(t *testing.T) {
	fetcher := NewFetcher(5 * time.Second)
	fetcher.Register(&stubAdapter{id: "slow", delay: 2 * time.Second}, 5, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	batches, err := fetcher.Fetch(ctx, "query")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if batches != nil {
		t.Errorf("Expected partial results to be discarded, got %v", batches)
	}
}

func TestFetcherReload(t *testing.T) {
	fetcher := NewFetcher(time.Second)

	configs := []*source.Config{
		{Name: "google-news", Type: source.TypeRSS, URL: "https://news.google.com/rss/search?q={query}"},
		{Name: "newsapi", Type: source.TypeNewsAPI},
		{Name: "gdelt", Type: source.TypeGDELT, Settings: source.Settings{Timeout: 3}},
	}

	if count := fetcher.Reload(configs); count != 2 {
		t.Errorf("Expected 2 adapters (newsapi without key skipped), got %d", count)
	}
	if fetcher.Count() != 2 {
		t.Errorf("Expected count 2, got %d", fetcher.Count())
	}

	if count := fetcher.Reload(nil); count != 0 {
		t.Errorf("Expected 0 adapters after empty reload, got %d", count)
	}
}
