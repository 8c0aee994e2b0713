//go:build integration

package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	rediscontainer "github.com/testcontainers/testcontainers-go/modules/redis"

	"example.com/cpd/internal/domain"
)

type countingSource struct {
	calls    atomic.Int32
	mappings []domain.CreditMapping
}

func (s *countingSource) ListMappings(ctx context.Context, activityID string) ([]domain.CreditMapping, error) {
	s.calls.Add(1)
	time.Sleep(20 * time.Millisecond)
	return s.mappings, nil
}

func newRedis(t *testing.T) *goredis.Client {
	t.Helper()
	ctx := context.Background()

	rc, err := rediscontainer.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, rc)
	require.NoError(t, err)

	uri, err := rc.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := goredis.ParseURL(uri)
	require.NoError(t, err)

	rdb, err := Dial(ctx, opts.Addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestMappingsReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	rdb := newRedis(t)

	source := &countingSource{mappings: []domain.CreditMapping{{
		ID: "m1", ActivityID: "a1", Unit: domain.CreditUnitHours, Amount: 1, Category: "general",
		Country: "US", ValidationMethod: domain.ValidationAttendance, Active: true,
		CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}}}
	cache := NewMappings(rdb, source, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := cache.ListMappings(ctx, "a1")
			require.NoError(t, err)
			require.Len(t, got, 1)
		}()
	}
	wg.Wait()
	loads := source.calls.Load()
	require.Less(t, loads, int32(8), "concurrent misses should share a load")

	got, err := cache.ListMappings(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, source.mappings, got)
	require.Equal(t, loads, source.calls.Load())

	ttl, err := rdb.TTL(ctx, keyPrefix+"a1").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))

	require.NoError(t, cache.InvalidateMappings(ctx, "a1"))
	_, err = cache.ListMappings(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, loads+1, source.calls.Load())
}

// gatedSource snapshots its mappings when a load starts and holds the load until released.
type gatedSource struct {
	mu       sync.Mutex
	mappings []domain.CreditMapping
	once     sync.Once
	started  chan struct{}
	release  chan struct{}
}

func (s *gatedSource) ListMappings(ctx context.Context, activityID string) ([]domain.CreditMapping, error) {
	s.mu.Lock()
	snapshot := append([]domain.CreditMapping(nil), s.mappings...)
	s.mu.Unlock()
	s.once.Do(func() { close(s.started) })
	<-s.release
	return snapshot, nil
}

func (s *gatedSource) set(mappings []domain.CreditMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings = mappings
}

func TestInvalidationDuringLoadIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	rdb := newRedis(t)

	old := domain.CreditMapping{
		ID: "m1", ActivityID: "a1", Unit: domain.CreditUnitHours, Amount: 1, Category: "general",
		Country: "US", ValidationMethod: domain.ValidationAttendance, Active: true,
		CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	updated := old
	updated.Amount = 2

	source := &gatedSource{
		mappings: []domain.CreditMapping{old},
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	cache := NewMappings(rdb, source, time.Minute, nil)

	done := make(chan []domain.CreditMapping, 1)
	go func() {
		got, err := cache.ListMappings(ctx, "a1")
		if err != nil {
			done <- nil
			return
		}
		done <- got
	}()

	<-source.started
	source.set([]domain.CreditMapping{updated})
	require.NoError(t, cache.InvalidateMappings(ctx, "a1"))
	close(source.release)

	stale := <-done
	require.Equal(t, []domain.CreditMapping{old}, stale)

	n, err := rdb.Exists(ctx, keyPrefix+"a1").Result()
	require.NoError(t, err)
	require.Zero(t, n, "a load that began before invalidation must not refill the cache")

	got, err := cache.ListMappings(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, []domain.CreditMapping{updated}, got)

	got, err = cache.ListMappings(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, []domain.CreditMapping{updated}, got)
}
