package mediacache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatterlay/mediacache/pkg/storage"
	"github.com/chatterlay/mediacache/pkg/storage/memory"
)

func seedEntry(t *testing.T, backend storage.Backend, key string, blob []byte, cachedAt time.Time) {
	t.Helper()
	require.NoError(t, backend.Put(context.Background(), key, blob, &storage.Meta{
		ContentType: "application/octet-stream",
		CachedAt:    cachedAt,
		Size:        int64(len(blob)),
	}))
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewContentStore(memory.New(), 0, 0)
	require.NoError(t, store.Initialize(ctx))

	blob := []byte("some media bytes")
	require.NoError(t, store.Put(ctx, "key1", blob, "image/png"))

	entry, ok := store.Lookup(ctx, "key1")
	require.True(t, ok)
	assert.Equal(t, blob, entry.Bytes)
	assert.Equal(t, "image/png", entry.ContentType)
	assert.WithinDuration(t, time.Now(), entry.CachedAt, time.Minute)
}

func TestStoreLookupMissIsNotAnError(t *testing.T) {
	ctx := context.Background()
	store := NewContentStore(memory.New(), 0, 0)
	require.NoError(t, store.Initialize(ctx))

	entry, ok := store.Lookup(ctx, "nope")
	assert.False(t, ok)
	assert.Nil(t, entry)
}

func TestStoreLookupDeletesStaleEntry(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	store := NewContentStore(backend, 0, 0)
	require.NoError(t, store.Initialize(ctx))

	seedEntry(t, backend, "stale", []byte("old"), time.Now().Add(-DefaultMaxAge-time.Hour))

	_, ok := store.Lookup(ctx, "stale")
	assert.False(t, ok)

	// The lookup removes the entry as a side effect
	_, err := backend.LoadMeta(ctx, "stale")
	assert.True(t, os.IsNotExist(err))
}

func TestStoreInitializeSweepsExpired(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	require.NoError(t, backend.Open(ctx))

	seedEntry(t, backend, "stale", []byte("old"), time.Now().Add(-DefaultMaxAge-time.Hour))
	seedEntry(t, backend, "fresh", []byte("new"), time.Now())

	store := NewContentStore(backend, 0, 0)
	require.NoError(t, store.Initialize(ctx))

	keys, err := backend.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, keys)
}

func TestStoreCapacityEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	store := NewContentStore(backend, 0, 3)
	require.NoError(t, store.Initialize(ctx))

	now := time.Now()
	seedEntry(t, backend, "oldest", []byte("0"), now.Add(-4*time.Minute))
	seedEntry(t, backend, "older", []byte("1"), now.Add(-3*time.Minute))
	seedEntry(t, backend, "old", []byte("2"), now.Add(-2*time.Minute))
	seedEntry(t, backend, "recent", []byte("3"), now.Add(-time.Minute))

	require.NoError(t, store.Put(ctx, "newest", []byte("4"), "text/plain"))

	keys, err := backend.ListKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	for _, key := range []string{"oldest", "older"} {
		_, ok := store.Lookup(ctx, key)
		assert.False(t, ok, "expected %q to be evicted", key)
	}
	for _, key := range []string{"old", "recent", "newest"} {
		_, ok := store.Lookup(ctx, key)
		assert.True(t, ok, "expected %q to survive", key)
	}
}

func TestStoreClearSkipsLateWrites(t *testing.T) {
	ctx := context.Background()
	store := NewContentStore(memory.New(), 0, 0)
	require.NoError(t, store.Initialize(ctx))

	gen := store.Generation()
	require.NoError(t, store.Clear(ctx))

	// A session that observed the pre-clear generation must not repopulate
	// the fresh store
	require.NoError(t, store.PutIfGeneration(ctx, gen, "key1", []byte("late"), "text/plain"))
	_, ok := store.Lookup(ctx, "key1")
	assert.False(t, ok)

	require.NoError(t, store.PutIfGeneration(ctx, store.Generation(), "key2", []byte("fresh"), "text/plain"))
	_, ok = store.Lookup(ctx, "key2")
	assert.True(t, ok)
}

func TestStoreStats(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	store := NewContentStore(backend, 0, 0)
	require.NoError(t, store.Initialize(ctx))

	require.NoError(t, store.Put(ctx, "a", make([]byte, 100), "image/png"))
	require.NoError(t, store.Put(ctx, "b", make([]byte, 50), "image/png"))

	stats := store.Stats(ctx)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, int64(150), stats.TotalSizeBytes)
}
