package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatterlay/mediacache/pkg/storage"
)

const testKey = "ab56b4d92b40713acc5af89985d4b786f0a01b0d1e3f4e0b9d3a8c21b2d6e8f0"

func newTestBackend(t *testing.T) Backend {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, s.Open(context.Background()))
	return s
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestBackend(t)

	metadata := &storage.Meta{
		ContentType: "image/png",
		CachedAt:    time.Now(),
		Size:        4,
	}
	require.NoError(t, s.Put(ctx, testKey, []byte("blob"), metadata))

	blob, got, err := s.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), blob)
	assert.Equal(t, "image/png", got.ContentType)
	assert.Equal(t, int64(4), got.Size)
	assert.True(t, metadata.CachedAt.Equal(got.CachedAt), "cached-at must round-trip")
}

func TestEntriesAreSharded(t *testing.T) {
	ctx := context.Background()
	base := filepath.Join(t.TempDir(), "cache")
	s := New(base)
	require.NoError(t, s.Open(ctx))

	require.NoError(t, s.Put(ctx, testKey, []byte("blob"), &storage.Meta{CachedAt: time.Now()}))

	_, err := os.Stat(filepath.Join(base, testKey[0:2], testKey))
	assert.NoError(t, err)
}

func TestMissingKey(t *testing.T) {
	ctx := context.Background()
	s := newTestBackend(t)

	_, _, err := s.Get(ctx, testKey)
	assert.True(t, os.IsNotExist(err))

	_, err = s.LoadMeta(ctx, testKey)
	assert.True(t, os.IsNotExist(err))
}

func TestListKeysSkipsMetaFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestBackend(t)

	otherKey := "cd" + testKey[2:]
	require.NoError(t, s.Put(ctx, testKey, []byte("1"), &storage.Meta{CachedAt: time.Now()}))
	require.NoError(t, s.Put(ctx, otherKey, []byte("2"), &storage.Meta{CachedAt: time.Now()}))

	keys, err := s.ListKeys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{testKey, otherKey}, keys)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestBackend(t)

	require.NoError(t, s.Put(ctx, testKey, []byte("blob"), &storage.Meta{CachedAt: time.Now()}))
	require.NoError(t, s.Delete(ctx, testKey))

	_, _, err := s.Get(ctx, testKey)
	assert.True(t, os.IsNotExist(err))

	// Deleting a missing key is not an error
	assert.NoError(t, s.Delete(ctx, testKey))
}

func TestDeleteAllAndReopen(t *testing.T) {
	ctx := context.Background()
	s := newTestBackend(t)

	require.NoError(t, s.Put(ctx, testKey, []byte("blob"), &storage.Meta{CachedAt: time.Now()}))
	require.NoError(t, s.DeleteAll(ctx))
	require.NoError(t, s.Open(ctx))

	keys, err := s.ListKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
