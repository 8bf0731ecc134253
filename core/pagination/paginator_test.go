package pagination

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"foqus-orchestrator/core/models"
	"foqus-orchestrator/core/monitoring"
	"foqus-orchestrator/storage"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func newPaginator(objects storage.ObjectStore) *Paginator {
	return NewPaginator(objects, storage.NewObjectLedgerProvider(objects),
		monitoring.NewCollector(prometheus.NewRegistry()), DefaultPageAttempts)
}

func finish(t *testing.T, objects storage.ObjectStore, jobID string, at time.Duration) {
	t.Helper()
	stamp := models.FormatTimestamp(t0.Add(at))
	body, err := json.Marshal(models.FinishedJob{
		ID:       jobID,
		Session:  "sess-1",
		User:     "alice",
		State:    models.JobStateSuccess,
		Output:   json.RawMessage(`{"y":1}`),
		Finished: stamp,
	})
	require.NoError(t, err)
	key := storage.FinishedKey("alice", "sess-1", stamp, "success", jobID)
	require.NoError(t, objects.PutIfAbsent(context.Background(), key, body))
}

func pageIDs(t *testing.T, p *Paginator, n int) []string {
	t.Helper()
	page, err := p.GetPage(context.Background(), "alice", "sess-1", n)
	require.NoError(t, err)
	ids := make([]string, len(page))
	for i, snapshot := range page {
		ids[i] = snapshot.ID
	}
	return ids
}

func TestRequestPage_EmptySession(t *testing.T) {
	p := newPaginator(storage.NewMemoryStore())
	n, err := p.RequestPage(context.Background(), "alice", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRequestPage_PagesEachJobOnce(t *testing.T) {
	ctx := context.Background()
	objects := storage.NewMemoryStore()
	p := newPaginator(objects)
	finish(t, objects, "job-c", 3*time.Second)
	finish(t, objects, "job-a", time.Second)
	finish(t, objects, "job-b", 2*time.Second)

	n, err := p.RequestPage(ctx, "alice", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"job-a", "job-b", "job-c"}, pageIDs(t, p, 1))

	for _, id := range []string{"job-a", "job-b", "job-c"} {
		body, err := objects.Get(ctx, storage.PagedKey("alice", "sess-1", id))
		require.NoError(t, err)
		assert.Equal(t, "1", string(body))
	}

	// Nothing new: the latest page number comes back and nothing is written.
	keys := objects.Keys()
	n, err = p.RequestPage(ctx, "alice", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, keys, objects.Keys())

	finish(t, objects, "job-d", 4*time.Second)
	finish(t, objects, "job-e", 5*time.Second)
	n, err = p.RequestPage(ctx, "alice", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"job-d", "job-e"}, pageIDs(t, p, 2))
}

func TestRequestPage_HealsMarkersAfterCrash(t *testing.T) {
	ctx := context.Background()
	objects := storage.NewMemoryStore()
	p := newPaginator(objects)
	finish(t, objects, "job-a", time.Second)
	finish(t, objects, "job-b", 2*time.Second)

	// Page 1 was written but the process died before marking job-b.
	page, err := json.Marshal(models.Page{{ID: "job-a"}, {ID: "job-b"}})
	require.NoError(t, err)
	require.NoError(t, objects.Put(ctx, storage.PageKey("alice", "sess-1", 1), page))
	require.NoError(t, objects.Put(ctx, storage.PagedKey("alice", "sess-1", "job-a"), []byte("1")))

	n, err := p.RequestPage(ctx, "alice", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	body, err := objects.Get(ctx, storage.PagedKey("alice", "sess-1", "job-b"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(body))
	_, err = objects.Get(ctx, storage.PageKey("alice", "sess-1", 2))
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

// racingStore lets a competing request write the next page just before ours
type racingStore struct {
	*storage.MemoryStore
	once    sync.Once
	compete func(ctx context.Context, key string)
	always  bool
}

func (s *racingStore) PutIfAbsent(ctx context.Context, key string, body []byte) error {
	if strings.Contains(key, "/page/number/") {
		if s.always {
			return storage.ErrExists
		}
		s.once.Do(func() { s.compete(ctx, key) })
	}
	return s.MemoryStore.PutIfAbsent(ctx, key, body)
}

func TestRequestPage_ConcurrentWriterWinsPageNumber(t *testing.T) {
	ctx := context.Background()
	objects := &racingStore{MemoryStore: storage.NewMemoryStore()}
	finish(t, objects, "job-a", time.Second)
	finish(t, objects, "job-b", 2*time.Second)
	objects.compete = func(ctx context.Context, key string) {
		page, _ := json.Marshal(models.Page{{ID: "job-a"}, {ID: "job-b"}})
		_ = objects.MemoryStore.PutIfAbsent(ctx, key, page)
	}
	p := newPaginator(objects)

	n, err := p.RequestPage(ctx, "alice", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"job-a", "job-b"}, pageIDs(t, p, 1))

	_, err = p.GetPage(ctx, "alice", "sess-1", 2)
	assert.True(t, errors.Is(err, ErrPageNotFound))
	for _, id := range []string{"job-a", "job-b"} {
		_, err := objects.Get(ctx, storage.PagedKey("alice", "sess-1", id))
		assert.NoError(t, err)
	}
}

func TestRequestPage_GivesUpAfterRepeatedConflicts(t *testing.T) {
	objects := &racingStore{MemoryStore: storage.NewMemoryStore(), always: true}
	finish(t, objects, "job-a", time.Second)
	p := newPaginator(objects)

	_, err := p.RequestPage(context.Background(), "alice", "sess-1")
	assert.True(t, errors.Is(err, ErrPageConflict))
}

func TestRequestPage_TruncatedListing(t *testing.T) {
	objects := storage.NewMemoryStore()
	finish(t, objects, "job-a", time.Second)
	finish(t, objects, "job-b", 2*time.Second)
	objects.ListLimit = 1
	p := newPaginator(objects)

	_, err := p.RequestPage(context.Background(), "alice", "sess-1")
	assert.True(t, errors.Is(err, storage.ErrListingTruncated))
	assert.NotContains(t, strings.Join(objects.Keys(), ","), "/page/number/")
}

func TestRequestPage_LedgerInconsistency(t *testing.T) {
	ctx := context.Background()
	objects := storage.NewMemoryStore()
	finish(t, objects, "job-a", time.Second)
	require.NoError(t, objects.Put(ctx, storage.PagedKey("alice", "sess-1", "ghost"), []byte("1")))
	p := newPaginator(objects)

	_, err := p.RequestPage(ctx, "alice", "sess-1")
	assert.True(t, errors.Is(err, ErrLedgerInconsistent))
	_, err = objects.Get(ctx, storage.PageKey("alice", "sess-1", 1))
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestGetPage_Missing(t *testing.T) {
	p := newPaginator(storage.NewMemoryStore())
	for _, n := range []int{0, 1} {
		_, err := p.GetPage(context.Background(), "alice", "sess-1", n)
		assert.True(t, errors.Is(err, ErrPageNotFound))
	}
}

func TestRequestPage_RedisLedger(t *testing.T) {
	ctx := context.Background()
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	objects := storage.NewMemoryStore()
	p := NewPaginator(objects, storage.NewRedisLedgerProvider(client, time.Hour),
		monitoring.NewCollector(prometheus.NewRegistry()), DefaultPageAttempts)
	finish(t, objects, "job-a", time.Second)

	n, err := p.RequestPage(ctx, "alice", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	finish(t, objects, "job-b", 2*time.Second)
	n, err = p.RequestPage(ctx, "alice", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"job-b"}, pageIDs(t, p, 2))

	members, err := client.SMembers("foqus:paged:alice:sess-1").Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"job-a", "job-b"}, members)
	// No marker objects with the Redis ledger.
	assert.NotContains(t, strings.Join(objects.Keys(), ","), "/paged/job/")
}

func TestRequestPage_RebuildsExpiredRedisLedger(t *testing.T) {
	ctx := context.Background()
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	objects := storage.NewMemoryStore()
	p := NewPaginator(objects, storage.NewRedisLedgerProvider(client, time.Hour),
		monitoring.NewCollector(prometheus.NewRegistry()), DefaultPageAttempts)
	finish(t, objects, "job-a", time.Second)
	n, err := p.RequestPage(ctx, "alice", "sess-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	finish(t, objects, "job-b", 2*time.Second)
	n, err = p.RequestPage(ctx, "alice", "sess-1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	server.FastForward(2 * time.Hour)
	require.False(t, server.Exists("foqus:paged:alice:sess-1"))

	n, err = p.RequestPage(ctx, "alice", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = objects.Get(ctx, storage.PageKey("alice", "sess-1", 3))
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	members, err := client.SMembers("foqus:paged:alice:sess-1").Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"job-a", "job-b"}, members)
}
