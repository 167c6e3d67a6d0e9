package tasks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lysyi3m/claim-comb/app/source"
)

type fakePurger struct {
	calls   atomic.Int32
	removed int
	err     error
}

func (f *fakePurger) Purge(ctx context.Context) (int, error) {
	f.calls.Add(1)
	return f.removed, f.err
}

type fakeRegistry struct {
	configs []*source.Config
}

func (f *fakeRegistry) Reload(configs []*source.Config) int {
	f.configs = configs
	return len(configs)
}

type flakyTask struct {
	Task
	failures atomic.Int32
	runs     atomic.Int32
	done     chan struct{}
}

func (t *flakyTask) Execute(ctx context.Context) error {
	run := t.runs.Add(1)
	if run <= t.failures.Load() {
		return errors.New("temporary failure")
	}
	close(t.done)
	return nil
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func TestNewTask(t *testing.T) {
	task := NewTask(TaskTypePurgeCache, "verdicts")
	other := NewTask(TaskTypePurgeCache, "verdicts")

	if task.ID == "" || task.ID == other.ID {
		t.Errorf("Expected unique task IDs, got %q and %q", task.ID, other.ID)
	}
	if task.MaxRetries != DefaultMaxRetries {
		t.Errorf("Expected max retries %d, got %d", DefaultMaxRetries, task.MaxRetries)
	}
	if task.GetDuration() != 0 {
		t.Error("Expected zero duration before start")
	}

	task.RetryCount = DefaultMaxRetries
	if task.CanRetry() {
		t.Error("Expected no retry after max retries")
	}
}

func TestPurgeCacheTask(t *testing.T) {
	purger := &fakePurger{removed: 4}
	task := NewPurgeCacheTask(purger)
	task.Start()

	if err := task.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if purger.calls.Load() != 1 {
		t.Errorf("Expected 1 purge, got %d", purger.calls.Load())
	}

	failing := NewPurgeCacheTask(&fakePurger{err: errors.New("disk full")})
	if err := failing.Execute(context.Background()); err == nil {
		t.Error("Expected purge error to be returned")
	}
}

func TestSyncSourcesTask(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write("gdelt.yml", "type: gdelt\nsettings:\n  enabled: true\n")
	write("archive.yml", "type: gdelt\nsettings:\n  enabled: false\n")

	catalog := source.NewConfigCache(dir, 10)
	registry := &fakeRegistry{}

	if err := NewSyncSourcesTask(catalog, registry).Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(registry.configs) != 1 || registry.configs[0].Name != "gdelt" {
		t.Errorf("Expected only the enabled source to be registered, got %v", registry.configs)
	}

	write("broken.yml", "type: carrier-pigeon\n")

	if err := NewSyncSourcesTask(catalog, registry).Execute(context.Background()); err == nil {
		t.Error("Expected invalid catalogue to fail the task")
	}
	if len(registry.configs) != 1 {
		t.Errorf("Expected adapters to be left in place, got %d", len(registry.configs))
	}
}

func TestSchedulerPurgesOnStart(t *testing.T) {
	purger := &fakePurger{}
	scheduler := NewScheduler(purger, time.Hour, 1)
	scheduler.Start()
	defer scheduler.Stop()

	waitFor(t, func() bool { return purger.calls.Load() == 1 })
}

func TestSchedulerRetriesFailedTask(t *testing.T) {
	scheduler := NewScheduler(nil, time.Hour, 2)
	scheduler.retryUnit = time.Millisecond
	scheduler.Start()
	defer scheduler.Stop()

	task := &flakyTask{Task: NewTask(TaskTypeSyncSources, "sources"), done: make(chan struct{})}
	task.failures.Store(2)

	if err := scheduler.EnqueueTask(task); err != nil {
		t.Fatal(err)
	}

	select {
	case <-task.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected task to succeed after retries")
	}

	if task.runs.Load() != 3 {
		t.Errorf("Expected 3 runs, got %d", task.runs.Load())
	}
	if task.GetRetryCount() != 2 {
		t.Errorf("Expected retry count 2, got %d", task.GetRetryCount())
	}
}

func TestSchedulerQueueFull(t *testing.T) {
	scheduler := NewScheduler(nil, time.Hour, 1)

	for i := 0; i < queueSize; i++ {
		if err := scheduler.EnqueueTask(NewPurgeCacheTask(&fakePurger{})); err != nil {
			t.Fatalf("Unexpected error at %d: %v", i, err)
		}
	}

	if err := scheduler.EnqueueTask(NewPurgeCacheTask(&fakePurger{})); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	scheduler.Stop()

	if err := scheduler.EnqueueTask(NewPurgeCacheTask(&fakePurger{})); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled after stop, got %v", err)
	}
}

func TestRetryDelay(t *testing.T) {
	scheduler := NewScheduler(nil, time.Hour, 1)

	expected := map[int]time.Duration{
		1:  time.Second,
		2:  2 * time.Second,
		3:  4 * time.Second,
		6:  30 * time.Second,
		70: 30 * time.Second,
	}
	for retry, want := range expected {
		if got := scheduler.retryDelay(retry); got != want {
			t.Errorf("Retry %d: expected %v, got %v", retry, want, got)
		}
	}
}
