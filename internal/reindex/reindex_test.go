package reindex

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/memstore"
	"github.com/ignite/emailfinder/internal/pkg/distlock"
	"github.com/ignite/emailfinder/internal/searchcache"
	"github.com/ignite/emailfinder/internal/service/contacts"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seedStore(n int) *memstore.Store {
	s := memstore.NewStore()
	for i := 0; i < n; i++ {
		s.Seed(domain.ContactRecord{Email: fmt.Sprintf("user%03d@x.com", i), CreatedAt: t0})
	}
	return s
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRun_IndexesEverythingAndClearsCheckpoint(t *testing.T) {
	mr, client := newRedis(t)
	store := seedStore(25)
	store.Seed(domain.ContactRecord{Email: "user003@x.com", Name: "newer", CreatedAt: t0.Add(time.Hour)})
	index := memstore.NewIndex()
	cache := searchcache.NewMemory(8, time.Minute)

	r := NewRunner(store, index, NewRedisCheckpoint(client, "reindex:cp"), Options{
		BatchSize: 10,
		Locks:     distlock.NewFactory(client, nil, time.Minute),
		Cache:     cache,
	})
	res, err := r.Run(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, 25, res.Indexed)
	assert.Equal(t, "user024@x.com", res.LastEmail)

	n, _ := index.Count(context.Background())
	assert.Equal(t, int64(25), n)
	doc, err := index.Get(context.Background(), "user003@x.com")
	require.NoError(t, err)
	assert.Equal(t, "newer", doc.Name)

	assert.False(t, mr.Exists("reindex:cp"))
	gen, _ := cache.Generation(context.Background())
	assert.Equal(t, int64(1), gen)
}

func TestRun_StopsOnItemErrorsAndResumes(t *testing.T) {
	_, client := newRedis(t)
	store := seedStore(30)
	index := memstore.NewIndex()
	index.FailItem("user015@x.com", "mapper_parsing_exception")
	cp := NewRedisCheckpoint(client, "reindex:cp")

	r := NewRunner(store, index, cp, Options{BatchSize: 10})
	res, err := r.Run(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, contacts.KindPartialFailure, contacts.KindOf(err))
	assert.False(t, res.Completed)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "user015@x.com", res.Failed[0].Email)

	last, err := cp.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user009@x.com", last)

	// Fix the document and resume from the checkpoint.
	index.FailItem("user015@x.com", "")
	res, err = r.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "user009@x.com", res.ResumedFrom)
	assert.Equal(t, 20, res.Indexed)
	assert.True(t, res.Completed)
}

func TestRun_FreshIgnoresCheckpoint(t *testing.T) {
	store := seedStore(5)
	cp := &MemoryCheckpoint{}
	require.NoError(t, cp.Save(context.Background(), "user003@x.com"))

	res, err := NewRunner(store, memstore.NewIndex(), cp, Options{BatchSize: 100}).Run(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, res.ResumedFrom)
	assert.Equal(t, 5, res.Indexed)
}

func TestRun_IndexDown(t *testing.T) {
	index := memstore.NewIndex()
	index.FailOn("bulk_put", contacts.IndexUnavailable(errors.New("timeout")))

	res, err := NewRunner(seedStore(3), index, nil, Options{}).Run(context.Background(), false)
	assert.True(t, errors.Is(err, contacts.ErrIndexUnavailable))
	assert.Zero(t, res.Indexed)
}

func TestRun_BusyWhileMaintenanceRuns(t *testing.T) {
	_, client := newRedis(t)
	locks := distlock.NewFactory(client, nil, time.Minute)
	held := locks(contacts.MaintenanceLockKey)
	ok, err := held.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = NewRunner(seedStore(1), memstore.NewIndex(), nil, Options{Locks: locks}).Run(context.Background(), false)
	assert.True(t, errors.Is(err, contacts.ErrBusy))
}

func TestRun_Throttled(t *testing.T) {
	store := seedStore(4)
	r := NewRunner(store, memstore.NewIndex(), nil, Options{BatchSize: 1, BatchesPerSecond: 50})

	start := time.Now()
	res, err := r.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Indexed)
	// Five limiter waits (four batches and the empty probe), the first one free.
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestRedisCheckpoint(t *testing.T) {
	mr, client := newRedis(t)
	cp := NewRedisCheckpoint(client, "cp")
	ctx := context.Background()

	last, err := cp.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, last)

	require.NoError(t, cp.Save(ctx, "a@x.com"))
	v, _ := mr.Get("cp")
	assert.Equal(t, "a@x.com", v)

	require.NoError(t, cp.Clear(ctx))
	assert.False(t, mr.Exists("cp"))
}
