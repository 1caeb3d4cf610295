// Package local implements a storage.Backend keeping cache entries on the
// local filesystem
package local

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chatterlay/mediacache/pkg/storage"
)

const storageLocalDirPermission = 0o700

// Backend implements the storage.Backend interface for local file storage.
// Entries are sharded into subdirectories by the first two characters of
// the key, metadata lives in a ".meta" JSON sidecar next to the blob.
type Backend struct {
	basePath string
}

// New returns a new local file storage backend
func New(basePath string) Backend { return Backend{basePath} }

// Open implements the storage.Backend Open method
func (s Backend) Open(_ context.Context) error {
	return errors.Wrap(os.MkdirAll(s.basePath, storageLocalDirPermission), "create storage dir")
}

// Get implements the storage.Backend Get method
func (s Backend) Get(ctx context.Context, key string) ([]byte, *storage.Meta, error) {
	metadata, err := s.LoadMeta(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	blob, err := os.ReadFile(s.entryPath(key)) //#nosec:G304 // Safe source of variable
	if err != nil {
		return nil, nil, errors.Wrap(err, "read cache file")
	}

	return blob, metadata, nil
}

// LoadMeta implements the storage.Backend LoadMeta method
func (s Backend) LoadMeta(_ context.Context, key string) (*storage.Meta, error) {
	metaPath := strings.Join([]string{s.entryPath(key), "meta"}, ".")
	if _, err := os.Stat(metaPath); err != nil {
		return nil, err // os.ErrNotExist passes through to the caller
	}

	f, err := os.Open(metaPath) //#nosec:G304 // Safe source of variable
	if err != nil {
		return nil, errors.Wrap(err, "open metadata file")
	}
	defer func() {
		if err := f.Close(); err != nil {
			logrus.WithError(err).Error("closing metadata file (leaked fd)")
		}
	}()

	out := new(storage.Meta)
	return out, errors.Wrap(
		json.NewDecoder(f).Decode(out),
		"decode metadata file",
	)
}

// Put implements the storage.Backend Put method
func (s Backend) Put(_ context.Context, key string, blob []byte, metadata *storage.Meta) error {
	entryPath := s.entryPath(key)

	if err := os.MkdirAll(path.Dir(entryPath), storageLocalDirPermission); err != nil {
		return errors.Wrap(err, "create cache dir")
	}

	if err := os.WriteFile(entryPath, blob, 0o600); err != nil {
		return errors.Wrap(err, "write cache file")
	}

	f, err := os.Create(strings.Join([]string{entryPath, "meta"}, "."))
	if err != nil {
		return errors.Wrap(err, "create cache meta file")
	}
	defer func() {
		if err := f.Close(); err != nil {
			logrus.WithError(err).Error("closing metadata file (leaked fd)")
		}
	}()

	return errors.Wrap(
		json.NewEncoder(f).Encode(metadata),
		"write cache meta file",
	)
}

// Delete implements the storage.Backend Delete method
func (s Backend) Delete(_ context.Context, key string) error {
	entryPath := s.entryPath(key)

	if err := os.Remove(entryPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove cache file")
	}

	if err := os.Remove(strings.Join([]string{entryPath, "meta"}, ".")); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove cache meta file")
	}

	return nil
}

// ListKeys implements the storage.Backend ListKeys method
func (s Backend) ListKeys(_ context.Context) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(s.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".meta") {
			return nil
		}
		keys = append(keys, d.Name())
		return nil
	})

	return keys, errors.Wrap(err, "walk storage dir")
}

// DeleteAll implements the storage.Backend DeleteAll method
func (s Backend) DeleteAll(_ context.Context) error {
	return errors.Wrap(os.RemoveAll(s.basePath), "remove storage dir")
}

func (s Backend) entryPath(key string) string {
	if len(key) < 2 {
		return path.Join(s.basePath, key)
	}
	return path.Join(s.basePath, key[0:2], key)
}
