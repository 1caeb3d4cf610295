// Package gcs implements a storage backend saving cache entries in GCS
package gcs

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"

	"github.com/chatterlay/mediacache/pkg/storage"
)

const gcsMetaCachedAt = "x-mediacache-cached-at"

// Backend implements the storage.Backend interface for GCS storage
type Backend struct {
	bucket string
	client *gcs.Client
	prefix string
}

// New returns a new GCS storage backend for a gs://bucket/prefix URI
func New(bucketURI string) (*Backend, error) {
	uri, err := url.Parse(bucketURI)
	if err != nil {
		return nil, errors.Wrap(err, "parse GCS bucket URI")
	}

	if uri.Scheme != "gs" || uri.Host == "" {
		return nil, errors.New("invalid GCS bucket URI")
	}

	return &Backend{
		bucket: uri.Host,
		prefix: strings.TrimLeft(uri.Path, "/"),
	}, nil
}

// Open implements the storage.Backend Open method
func (s *Backend) Open(ctx context.Context) error {
	if s.client != nil {
		return nil
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return errors.Wrap(err, "create GCS client")
	}

	s.client = client
	return nil
}

// Close implements io.Closer, releasing the GCS client
func (s *Backend) Close() error {
	if s.client == nil {
		return nil
	}
	return errors.Wrap(s.client.Close(), "close GCS client")
}

// Get implements the storage.Backend Get method
func (s *Backend) Get(ctx context.Context, key string) ([]byte, *storage.Meta, error) {
	objHdl := s.client.Bucket(s.bucket).Object(s.objectPath(key))

	r, err := objHdl.NewReader(ctx)
	switch err {
	case nil:
		// This is fine

	case gcs.ErrObjectNotExist:
		return nil, nil, os.ErrNotExist

	default:
		return nil, nil, errors.Wrap(err, "get object reader")
	}
	defer func() {
		if err := r.Close(); err != nil {
			logrus.WithError(err).Error("closing object reader (leaked fd)")
		}
	}()

	blob := new(bytes.Buffer)
	if _, err = io.Copy(blob, r); err != nil {
		return nil, nil, errors.Wrap(err, "read object")
	}

	metadata, err := s.LoadMeta(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	return blob.Bytes(), metadata, nil
}

// LoadMeta implements the storage.Backend LoadMeta method
func (s *Backend) LoadMeta(ctx context.Context, key string) (*storage.Meta, error) {
	objHdl := s.client.Bucket(s.bucket).Object(s.objectPath(key))

	attrs, err := objHdl.Attrs(ctx)
	switch err {
	case nil:
		// This is fine

	case gcs.ErrObjectNotExist:
		return nil, os.ErrNotExist // Surrounding code reacts on ErrNotExist

	default:
		return nil, errors.Wrap(err, "get object meta")
	}

	out := &storage.Meta{
		ContentType: attrs.ContentType,
		Size:        attrs.Size,
	}

	if out.CachedAt, err = time.Parse(time.RFC3339Nano, attrs.Metadata[gcsMetaCachedAt]); err != nil {
		return nil, errors.Wrap(err, "parse cached-at date")
	}

	return out, nil
}

// Put implements the storage.Backend Put method
func (s *Backend) Put(ctx context.Context, key string, blob []byte, metadata *storage.Meta) error {
	objHdl := s.client.Bucket(s.bucket).Object(s.objectPath(key))

	w := objHdl.NewWriter(ctx)
	w.ContentType = metadata.ContentType
	w.Metadata = map[string]string{
		gcsMetaCachedAt: metadata.CachedAt.Format(time.RFC3339Nano),
	}

	if _, err := w.Write(blob); err != nil {
		return errors.Wrap(err, "upload content")
	}

	return errors.Wrap(w.Close(), "finish upload")
}

// Delete implements the storage.Backend Delete method
func (s *Backend) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(s.objectPath(key)).Delete(ctx)
	switch err {
	case nil, gcs.ErrObjectNotExist:
		return nil

	default:
		return errors.Wrap(err, "delete object")
	}
}

// ListKeys implements the storage.Backend ListKeys method
func (s *Backend) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string

	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: s.prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "iterate objects")
		}

		keys = append(keys, path.Base(attrs.Name))
	}

	return keys, nil
}

// DeleteAll implements the storage.Backend DeleteAll method
func (s *Backend) DeleteAll(ctx context.Context) error {
	keys, err := s.ListKeys(ctx)
	if err != nil {
		return errors.Wrap(err, "list objects")
	}

	for _, key := range keys {
		if err = s.Delete(ctx, key); err != nil {
			return errors.Wrap(err, "delete object")
		}
	}

	return nil
}

func (s *Backend) objectPath(key string) string {
	return strings.TrimLeft(path.Join(s.prefix, key), "/")
}
