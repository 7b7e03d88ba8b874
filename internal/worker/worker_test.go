package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/infrastructure/storage/postgres"
	"larder/pkg/logger"
)

type fakeRelay struct {
	mu       sync.Mutex
	batches  []int
	batchErr error
	moved    int64
	purgedAt time.Time
	stats    postgres.OutboxStats
	calls    []string
}

func (f *fakeRelay) ProcessBatch(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "batch")
	if len(f.batches) == 0 {
		return 0, f.batchErr
	}
	n := f.batches[0]
	f.batches = f.batches[1:]
	return n, nil
}

func (f *fakeRelay) MoveToDLQ(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "dlq")
	return f.moved, nil
}

func (f *fakeRelay) Stats(context.Context) (postgres.OutboxStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, nil
}

func (f *fakeRelay) PurgePublished(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "purge")
	f.purgedAt = olderThan
	return 0, nil
}

type fakeKeys struct{ calls int }

func (f *fakeKeys) CleanupExpired(context.Context) (int64, error) {
	f.calls++
	return 2, nil
}

type fakeGauges struct{ pending, failed, dead int64 }

func (g *fakeGauges) SetOutbox(p, f, d int64) { g.pending, g.failed, g.dead = p, f, d }

type heldMutex struct{}

func (heldMutex) TryRun(context.Context, string, time.Duration, func(context.Context) error) (bool, error) {
	return false, nil
}

func TestDrain_StopsOnEmptyBatch(t *testing.T) {
	relay := &fakeRelay{batches: []int{100, 100, 7}}
	w := New(relay, nil, nil, nil, Config{}, logger.NewNop())

	assert.Equal(t, 207, w.Drain(context.Background()))
	assert.Len(t, relay.calls, 4, "three batches plus the empty one")
}

func TestDrain_StopsOnError(t *testing.T) {
	relay := &fakeRelay{batchErr: errors.New("db down")}
	w := New(relay, nil, nil, nil, Config{}, logger.NewNop())

	assert.Equal(t, 0, w.Drain(context.Background()))
	assert.Len(t, relay.calls, 1)
}

func TestMaintain_RunsCleanupAndGauges(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	relay := &fakeRelay{moved: 1, stats: postgres.OutboxStats{Pending: 4, Failed: 2, Dead: 1}}
	keys := &fakeKeys{}
	gauges := &fakeGauges{}
	w := New(relay, keys, nil, gauges, Config{RetainPublished: 24 * time.Hour}, logger.NewNop())
	w.now = func() time.Time { return now }

	w.Maintain(context.Background())

	assert.Equal(t, []string{"dlq", "purge"}, relay.calls)
	assert.Equal(t, now.Add(-24*time.Hour), relay.purgedAt)
	assert.Equal(t, 1, keys.calls)
	assert.Equal(t, fakeGauges{pending: 4, failed: 2, dead: 1}, *gauges)
}

func TestMaintain_SkipsCleanupWhenLockHeld(t *testing.T) {
	relay := &fakeRelay{stats: postgres.OutboxStats{Pending: 3}}
	keys := &fakeKeys{}
	gauges := &fakeGauges{}
	w := New(relay, keys, heldMutex{}, gauges, Config{}, logger.NewNop())

	w.Maintain(context.Background())

	assert.Empty(t, relay.calls)
	assert.Zero(t, keys.calls)
	assert.EqualValues(t, 3, gauges.pending, "gauges are refreshed on every instance")
}

func TestRun_ReturnsOnCancel(t *testing.T) {
	relay := &fakeRelay{}
	w := New(relay, nil, nil, nil, Config{PollInterval: time.Millisecond}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "worker did not stop")
	}
}
