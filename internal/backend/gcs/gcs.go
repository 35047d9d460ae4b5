// Package gcs is a remote Backend adapter storing one file's catalog image
// as a single Google Cloud Storage object, addressed by a path of the form
// "gcs://bucket/object". See internal/backend/s3 and
// internal/backend/objstore for the shared shape every remote adapter
// follows.
package gcs

import (
	"context"
	"errors"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/MPAS-Dev/smiol-go/internal/backend"
	"github.com/MPAS-Dev/smiol-go/internal/backend/objstore"
)

type Backend struct {
	*objstore.Catalog

	client   *storage.Client
	bucket   string
	object   string
	writable bool
}

func New() *Backend {
	return &Backend{Catalog: objstore.NewCatalog()}
}

func parsePath(path string) (bucket, object string) {
	rest := strings.TrimPrefix(path, "gcs://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

func (b *Backend) connect(ctx context.Context) error {
	if b.client != nil {
		return nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return err
	}
	b.client = client
	return nil
}

func (b *Backend) Create(path string) error {
	ctx := context.Background()
	if err := b.connect(ctx); err != nil {
		return err
	}
	b.bucket, b.object = parsePath(path)
	b.writable = true
	b.Catalog.Reset()
	return nil
}

func (b *Backend) Open(path string, writable bool) error {
	ctx := context.Background()
	if err := b.connect(ctx); err != nil {
		return err
	}
	b.bucket, b.object = parsePath(path)
	b.writable = writable

	r, err := b.client.Bucket(b.bucket).Object(b.object).NewReader(ctx)
	if err != nil {
		if writable && errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	img, err := objstore.Decode(data)
	if err != nil {
		return err
	}
	b.Catalog.LoadImage(img)
	return nil
}

func (b *Backend) Close() error {
	if b.writable {
		return b.flush(context.Background())
	}
	return nil
}

func (b *Backend) Sync() error {
	if b.writable {
		return b.flush(context.Background())
	}
	return nil
}

func (b *Backend) flush(ctx context.Context) error {
	data, err := objstore.Encode(b.Catalog.Snapshot())
	if err != nil {
		return err
	}
	w := b.client.Bucket(b.bucket).Object(b.object).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

var _ backend.Backend = (*Backend)(nil)
