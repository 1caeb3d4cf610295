package mediacache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chatterlay/mediacache/pkg/fetch"
	"github.com/chatterlay/mediacache/pkg/storage"
)

type (
	// Content is the displayable result of a Get
	Content struct {
		Bytes       []byte
		ContentType string
		FromCache   bool
	}

	// Stats describes the cache state at one point in time
	Stats struct {
		Count          int   `json:"count"`
		TotalSizeBytes int64 `json:"size"`
		Pending        int   `json:"pending"`
	}

	// Cache is the public entry point: a local, best-effort media cache
	// in front of the streaming fetch service. Construct one per
	// application, call Initialize before first use and pass the instance
	// to the call sites.
	Cache struct {
		store       *ContentStore
		coordinator *Coordinator
		fetcher     fetch.Fetcher

		maxAge     time.Duration
		maxEntries int
		timeout    time.Duration
	}

	// Option modifies the Cache configuration
	Option func(*Cache)

	// GetOption modifies a single Get call
	GetOption func(*getOptions)

	getOptions struct {
		progress     ProgressSink
		expectedSize int64
	}
)

// WithMaxAge overrides the default entry TTL
func WithMaxAge(d time.Duration) Option {
	return func(c *Cache) { c.maxAge = d }
}

// WithMaxEntries overrides the default entry-count bound
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

// WithFetchTimeout bounds the duration of a single fetch session. The
// default is no timeout, matching the reference behavior of the fetch
// service.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) { c.timeout = d }
}

// WithProgress attaches a progress sink to the fetch triggered by this
// Get. Cache hits complete without progress reports.
func WithProgress(sink ProgressSink) GetOption {
	return func(o *getOptions) { o.progress = sink }
}

// WithExpectedSize supplies the expected total size used for the progress
// ratio, as the transport does not announce it up front
func WithExpectedSize(n int64) GetOption {
	return func(o *getOptions) { o.expectedSize = n }
}

// New creates a Cache fetching through the given fetcher and storing into
// the given backend
func New(fetcher fetch.Fetcher, backend storage.Backend, opts ...Option) *Cache {
	c := &Cache{
		coordinator: NewCoordinator(),
		fetcher:     fetcher,
		maxAge:      DefaultMaxAge,
		maxEntries:  DefaultMaxEntries,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.store = NewContentStore(backend, c.maxAge, c.maxEntries)
	return c
}

// Initialize opens the backing store and removes entries past their
// maximum age
func (c *Cache) Initialize(ctx context.Context) error {
	return c.store.Initialize(ctx)
}

// Shutdown releases the backing store's resources. The cache must not be
// used afterwards.
func (c *Cache) Shutdown() error {
	return c.store.Close()
}

// Get returns the content for the descriptor, serving from the cache when
// possible. Concurrent Gets for the same key share one underlying fetch.
// A failed Get returns a typed error, distinct from absent content, and
// nothing is cached; a retry is indistinguishable from a fresh fetch.
func (c *Cache) Get(ctx context.Context, d Descriptor, opts ...GetOption) (*Content, error) {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	key := KeyFor(d)
	logger := logrus.WithFields(logrus.Fields{
		"key":     key,
		"locator": d.locator(),
	})

	if entry, ok := c.store.Lookup(ctx, key); ok {
		logger.Debug("Media served from cache")
		metricCacheHits.Inc()
		return &Content{Bytes: entry.Bytes, ContentType: entry.ContentType, FromCache: true}, nil
	}

	metricCacheMisses.Inc()
	logger.Debug("Cache miss, fetching")

	return c.coordinator.Do(ctx, key, func(ctx context.Context) (*Content, error) {
		// A concurrent Get may have completed and cached this key between
		// our lookup and winning the flight
		if entry, ok := c.store.Lookup(ctx, key); ok {
			return &Content{Bytes: entry.Bytes, ContentType: entry.ContentType, FromCache: true}, nil
		}

		return newSession(c.fetcher, c.store, d, key, o, c.timeout).run(ctx)
	})
}

// Clear empties the backing store and drops all coordination state.
// Sessions already in flight still complete and resolve their waiters but
// their results are discarded instead of being written into the fresh
// store.
func (c *Cache) Clear(ctx context.Context) error {
	c.coordinator.ForgetAll()
	return c.store.Clear(ctx)
}

// Stats returns entry count, total stored bytes and the number of
// in-flight fetches
func (c *Cache) Stats(ctx context.Context) Stats {
	s := c.store.Stats(ctx)
	return Stats{
		Count:          s.Count,
		TotalSizeBytes: s.TotalSizeBytes,
		Pending:        c.coordinator.PendingCount(),
	}
}
