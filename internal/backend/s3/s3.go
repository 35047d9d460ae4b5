// Package s3 is a remote Backend adapter storing one file's catalog image
// as a single S3 object. Only Create/Open/Close/Sync differ from the local
// backend; everything else is the shared internal/backend/objstore.Catalog
// (see DESIGN.md for why the catalog logic isn't reimplemented per scheme).
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/MPAS-Dev/smiol-go/internal/backend"
	"github.com/MPAS-Dev/smiol-go/internal/backend/objstore"
)

// Backend stores the catalog image as object `key` in `bucket`, addressed
// by a path of the form "s3://bucket/key".
type Backend struct {
	*objstore.Catalog

	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	key      string
	writable bool
}

func New() *Backend {
	return &Backend{Catalog: objstore.NewCatalog()}
}

func parsePath(path string) (bucket, key string) {
	rest := strings.TrimPrefix(path, "s3://")
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
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return err
	}
	b.client = s3.NewFromConfig(cfg)
	b.uploader = manager.NewUploader(b.client)
	return nil
}

func (b *Backend) Create(path string) error {
	ctx := context.Background()
	if err := b.connect(ctx); err != nil {
		return err
	}
	b.bucket, b.key = parsePath(path)
	b.writable = true
	b.Catalog.Reset()
	return nil
}

func (b *Backend) Open(path string, writable bool) error {
	ctx := context.Background()
	if err := b.connect(ctx); err != nil {
		return err
	}
	b.bucket, b.key = parsePath(path)
	b.writable = writable

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if writable && isNoSuchKey(err, &apiErr) {
			return nil
		}
		return err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
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

func isNoSuchKey(err error, apiErr *smithy.APIError) bool {
	if errors.As(err, apiErr) {
		code := (*apiErr).ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
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
	_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
		Body:   bytes.NewReader(data),
	})
	return err
}

var _ backend.Backend = (*Backend)(nil)
