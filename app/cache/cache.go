package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/claim-comb/app/claim"
)

const (
	DefaultTTL        = 30 * 24 * time.Hour
	DefaultMaxEntries = 100
)

var ErrCacheCorrupt = errors.New("cache entry is corrupt")

// Record is the stored form of a verdict. Payload holds the JSON encoded
// claim.Verdict.
type Record struct {
	Fingerprint  string
	Payload      []byte
	EvidenceHash string
	CreatedAt    time.Time
}

// Backend persists records keyed by claim fingerprint. Get reports a
// missing record with ok=false and a nil error.
type Backend interface {
	Get(ctx context.Context, fingerprint string) (Record, bool, error)
	Put(ctx context.Context, record Record) error
	Delete(ctx context.Context, fingerprint string) error
	// Purge removes records created before cutoff, then the oldest records
	// beyond keep. keep <= 0 disables the capacity limit.
	Purge(ctx context.Context, cutoff time.Time, keep int) (int, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

type Entry struct {
	Verdict      claim.Verdict
	EvidenceHash string
	CreatedAt    time.Time
}

func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

type Cache struct {
	backend    Backend
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func New(backend Backend, ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		backend:    backend,
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Lookup returns the cached entry for the claim if it is younger than the
// TTL. Backend failures and corrupt entries are reported as a miss.
func (c *Cache) Lookup(ctx context.Context, cl claim.Claim) (Entry, bool) {
	fingerprint := cl.Fingerprint()

	record, ok, err := c.backend.Get(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, ErrCacheCorrupt) {
			slog.Warn("Corrupt cache entry, dropping", "fingerprint", fingerprint, "error", err)
			c.drop(ctx, fingerprint)
		} else {
			slog.Error("Cache lookup failed", "fingerprint", fingerprint, "error", err)
		}
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}

	entry, err := decode(record)
	if err != nil {
		slog.Warn("Corrupt cache entry, dropping", "fingerprint", fingerprint, "error", err)
		c.drop(ctx, fingerprint)
		return Entry{}, false
	}

	if entry.Age(c.now()) > c.ttl {
		slog.Debug("Cache entry expired", "fingerprint", fingerprint, "created_at", entry.CreatedAt)
		c.drop(ctx, fingerprint)
		return Entry{}, false
	}

	entry.Verdict.Cached = true
	return entry, true
}

func (c *Cache) Store(ctx context.Context, cl claim.Claim, verdict claim.Verdict, evidenceHash string) error {
	verdict.Cached = false

	payload, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("failed to encode verdict: %w", err)
	}

	record := Record{
		Fingerprint:  cl.Fingerprint(),
		Payload:      payload,
		EvidenceHash: evidenceHash,
		CreatedAt:    c.now().UTC(),
	}

	if err := c.backend.Put(ctx, record); err != nil {
		return fmt.Errorf("failed to store verdict: %w", err)
	}

	if c.maxEntries > 0 {
		if _, err := c.Purge(ctx); err != nil {
			slog.Warn("Failed to enforce cache capacity", "error", err)
		}
	}

	return nil
}

// Purge removes expired entries and trims the cache to its capacity,
// keeping the newest entries.
func (c *Cache) Purge(ctx context.Context) (int, error) {
	removed, err := c.backend.Purge(ctx, c.now().Add(-c.ttl), c.maxEntries)
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	if removed > 0 {
		slog.Debug("Cache purged", "removed", removed)
	}
	return removed, nil
}

// Len returns the number of stored entries, or 0 when the backend cannot
// be read.
func (c *Cache) Len(ctx context.Context) int {
	count, err := c.backend.Count(ctx)
	if err != nil {
		slog.Error("Failed to count cache entries", "error", err)
		return 0
	}
	return count
}

func (c *Cache) Close() error {
	return c.backend.Close()
}

func (c *Cache) drop(ctx context.Context, fingerprint string) {
	if err := c.backend.Delete(ctx, fingerprint); err != nil {
		slog.Warn("Failed to delete cache entry", "fingerprint", fingerprint, "error", err)
	}
}

func decode(record Record) (Entry, error) {
	var verdict claim.Verdict
	if err := json.Unmarshal(record.Payload, &verdict); err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrCacheCorrupt, err)
	}
	if verdict.Label == "" || verdict.Fingerprint == "" {
		return Entry{}, fmt.Errorf("%w: verdict is incomplete", ErrCacheCorrupt)
	}
	if record.CreatedAt.IsZero() {
		return Entry{}, fmt.Errorf("%w: missing timestamp", ErrCacheCorrupt)
	}

	return Entry{
		Verdict:      verdict,
		EvidenceHash: record.EvidenceHash,
		CreatedAt:    record.CreatedAt,
	}, nil
}
