// Package storage defines the interface to talk to the cache storage backends
package storage

import (
	"context"
	"time"
)

type (
	// Meta contains the metadata stored alongside each cached blob
	Meta struct {
		ContentType string
		CachedAt    time.Time
		Size        int64
	}

	// Backend is the interface to implement when building a storage
	// backend. Reads of missing keys must return an error matching
	// os.ErrNotExist: absence is a normal outcome for the callers.
	Backend interface {
		Open(ctx context.Context) error
		Get(ctx context.Context, key string) ([]byte, *Meta, error)
		LoadMeta(ctx context.Context, key string) (*Meta, error)
		Put(ctx context.Context, key string, blob []byte, metadata *Meta) error
		Delete(ctx context.Context, key string) error
		ListKeys(ctx context.Context) ([]string, error)
		DeleteAll(ctx context.Context) error
	}
)
