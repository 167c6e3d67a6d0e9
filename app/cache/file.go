package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

var _ Backend = (*FileBackend)(nil)

type fileEntry struct {
	Timestamp    time.Time       `json:"timestamp"`
	EvidenceHash string          `json:"evidence_hash,omitempty"`
	Verdict      json.RawMessage `json:"verdict"`
}

// FileBackend keeps all records in a single JSON document that is loaded
// once and rewritten atomically on every change.
type FileBackend struct {
	path    string
	mu      sync.Mutex
	entries map[string]fileEntry
}

func NewFileBackend(path string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	b := &FileBackend{
		path:    path,
		entries: make(map[string]fileEntry),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		slog.Warn("Cache file is unreadable, starting empty", "path", path, "error", fmt.Errorf("%w: %w", ErrCacheCorrupt, err))
		return b, nil
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &b.entries); err != nil {
			slog.Warn("Cache file is corrupt, starting empty", "path", path, "error", fmt.Errorf("%w: %w", ErrCacheCorrupt, err))
			b.entries = make(map[string]fileEntry)
		}
	}

	slog.Debug("Cache file loaded", "path", path, "entries", len(b.entries))

	return b, nil
}

func (b *FileBackend) Get(ctx context.Context, fingerprint string) (Record, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[fingerprint]
	if !ok {
		return Record{}, false, nil
	}

	return Record{
		Fingerprint:  fingerprint,
		Payload:      entry.Verdict,
		EvidenceHash: entry.EvidenceHash,
		CreatedAt:    entry.Timestamp,
	}, true, nil
}

func (b *FileBackend) Put(ctx context.Context, record Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[record.Fingerprint] = fileEntry{
		Timestamp:    record.CreatedAt.UTC(),
		EvidenceHash: record.EvidenceHash,
		Verdict:      json.RawMessage(record.Payload),
	}
	return b.save()
}

func (b *FileBackend) Delete(ctx context.Context, fingerprint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[fingerprint]; !ok {
		return nil
	}
	delete(b.entries, fingerprint)
	return b.save()
}

func (b *FileBackend) Purge(ctx context.Context, cutoff time.Time, keep int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for fingerprint, entry := range b.entries {
		if entry.Timestamp.Before(cutoff) {
			delete(b.entries, fingerprint)
			removed++
		}
	}

	if keep > 0 && len(b.entries) > keep {
		fingerprints := make([]string, 0, len(b.entries))
		for fingerprint := range b.entries {
			fingerprints = append(fingerprints, fingerprint)
		}
		sort.Slice(fingerprints, func(i, j int) bool {
			a, c := b.entries[fingerprints[i]], b.entries[fingerprints[j]]
			if !a.Timestamp.Equal(c.Timestamp) {
				return a.Timestamp.After(c.Timestamp)
			}
			return fingerprints[i] < fingerprints[j]
		})
		for _, fingerprint := range fingerprints[keep:] {
			delete(b.entries, fingerprint)
			removed++
		}
	}

	if removed == 0 {
		return 0, nil
	}
	return removed, b.save()
}

func (b *FileBackend) Count(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries), nil
}

func (b *FileBackend) Close() error {
	return nil
}

// save must be called with the lock held.
func (b *FileBackend) save() error {
	data, err := json.MarshalIndent(b.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}
