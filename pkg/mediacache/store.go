package mediacache

import (
	"context"
	"io"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chatterlay/mediacache/pkg/storage"
)

// Cache calibration defaults, matching the reference client
const (
	DefaultMaxAge     = 365 * 24 * time.Hour
	DefaultMaxEntries = 1000
)

type (
	// Entry is one cached media artifact. Entries are immutable once
	// written, a Put for an existing key replaces the entry wholesale.
	Entry struct {
		Key         string
		Bytes       []byte
		ContentType string
		CachedAt    time.Time
	}

	// StoreStats is the read-only aggregate over the stored entries
	StoreStats struct {
		Count          int
		TotalSizeBytes int64
	}

	// ContentStore keeps assembled media in a storage.Backend, enforcing
	// a maximum entry age and a maximum entry count
	ContentStore struct {
		backend    storage.Backend
		maxAge     time.Duration
		maxEntries int
		generation atomic.Uint64
		now        func() time.Time
	}
)

// NewContentStore wraps the given backend. Zero maxAge / maxEntries fall
// back to the defaults.
func NewContentStore(backend storage.Backend, maxAge time.Duration, maxEntries int) *ContentStore {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	return &ContentStore{
		backend:    backend,
		maxAge:     maxAge,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Initialize opens the backing store and eagerly sweeps out entries past
// their maximum age
func (s *ContentStore) Initialize(ctx context.Context) error {
	if err := s.backend.Open(ctx); err != nil {
		return errors.Wrap(err, "open backing store")
	}

	if err := s.sweepExpired(ctx); err != nil {
		logrus.WithError(err).Warn("Unable to sweep expired cache entries")
	}

	return nil
}

// Close releases resources held by the backing store
func (s *ContentStore) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return errors.Wrap(c.Close(), "close backing store")
	}
	return nil
}

// Lookup returns the entry for key if present and fresh. Absence is not
// an error. A stale entry is deleted during the lookup and reported as a
// miss.
func (s *ContentStore) Lookup(ctx context.Context, key string) (*Entry, bool) {
	blob, metadata, err := s.backend.Get(ctx, key)
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.WithError(err).WithField("key", key).Error("Unable to read cache entry")
		}
		return nil, false
	}

	if s.now().Sub(metadata.CachedAt) > s.maxAge {
		if err = s.backend.Delete(ctx, key); err != nil {
			logrus.WithError(err).WithField("key", key).Error("Unable to delete expired cache entry")
		}
		metricCacheEvictions.WithLabelValues("expired").Inc()
		return nil, false
	}

	return &Entry{
		Key:         key,
		Bytes:       blob,
		ContentType: metadata.ContentType,
		CachedAt:    metadata.CachedAt,
	}, true
}

// Put writes the entry with the current time and afterwards enforces the
// entry-count bound by evicting the oldest entries. The caller treats a
// returned error as non-fatal: caching is an optimization, never a
// requirement for the fetch that produced the bytes.
func (s *ContentStore) Put(ctx context.Context, key string, blob []byte, contentType string) error {
	metadata := &storage.Meta{
		ContentType: contentType,
		CachedAt:    s.now(),
		Size:        int64(len(blob)),
	}

	if err := s.backend.Put(ctx, key, blob, metadata); err != nil {
		return errors.Wrap(err, "write cache entry")
	}

	if err := s.enforceLimit(ctx); err != nil {
		logrus.WithError(err).Warn("Unable to enforce cache entry limit")
	}

	return nil
}

// PutIfGeneration behaves like Put but silently skips the write when the
// store was cleared after the given generation was observed: the fetch
// result then simply is not cached.
func (s *ContentStore) PutIfGeneration(ctx context.Context, gen uint64, key string, blob []byte, contentType string) error {
	if s.generation.Load() != gen {
		logrus.WithField("key", key).Debug("Cache cleared while fetch was in flight, discarding result")
		return nil
	}

	return s.Put(ctx, key, blob, contentType)
}

// Generation returns the current clear-generation of the store
func (s *ContentStore) Generation() uint64 { return s.generation.Load() }

// Clear deletes the whole backing store and reopens it empty. The
// generation bump makes sessions started before the clear skip their
// write.
func (s *ContentStore) Clear(ctx context.Context) error {
	s.generation.Add(1)

	if err := s.backend.DeleteAll(ctx); err != nil {
		return errors.Wrap(err, "delete backing store")
	}

	return errors.Wrap(s.backend.Open(ctx), "reopen backing store")
}

// Stats returns count and total size of the stored entries, zeroed when
// the backend fails
func (s *ContentStore) Stats(ctx context.Context) StoreStats {
	keys, err := s.backend.ListKeys(ctx)
	if err != nil {
		logrus.WithError(err).Error("Unable to list cache keys")
		return StoreStats{}
	}

	var out StoreStats
	for _, key := range keys {
		metadata, err := s.backend.LoadMeta(ctx, key)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			logrus.WithError(err).Error("Unable to load cache entry meta")
			return StoreStats{}
		}

		out.Count++
		out.TotalSizeBytes += metadata.Size
	}

	return out
}

func (s *ContentStore) sweepExpired(ctx context.Context) error {
	keys, err := s.backend.ListKeys(ctx)
	if err != nil {
		return errors.Wrap(err, "list keys")
	}

	for _, key := range keys {
		metadata, err := s.backend.LoadMeta(ctx, key)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrap(err, "load cache entry meta")
		}

		if s.now().Sub(metadata.CachedAt) <= s.maxAge {
			continue
		}

		if err = s.backend.Delete(ctx, key); err != nil {
			return errors.Wrap(err, "delete expired entry")
		}
		metricCacheEvictions.WithLabelValues("expired").Inc()
	}

	return nil
}

func (s *ContentStore) enforceLimit(ctx context.Context) error {
	keys, err := s.backend.ListKeys(ctx)
	if err != nil {
		return errors.Wrap(err, "list keys")
	}

	if len(keys) <= s.maxEntries {
		return nil
	}

	type agedKey struct {
		key      string
		cachedAt time.Time
	}

	entries := make([]agedKey, 0, len(keys))
	for _, key := range keys {
		metadata, err := s.backend.LoadMeta(ctx, key)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrap(err, "load cache entry meta")
		}
		entries = append(entries, agedKey{key, metadata.CachedAt})
	}

	if len(entries) <= s.maxEntries {
		return nil
	}

	// Oldest first, ties broken by stable order
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].cachedAt.Before(entries[j].cachedAt)
	})

	for _, e := range entries[:len(entries)-s.maxEntries] {
		if err = s.backend.Delete(ctx, e.key); err != nil {
			return errors.Wrap(err, "delete evicted entry")
		}
		metricCacheEvictions.WithLabelValues("capacity").Inc()
	}

	return nil
}
