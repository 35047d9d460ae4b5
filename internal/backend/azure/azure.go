// Package azure is a remote Backend adapter storing one file's catalog
// image as a single Azure Blob Storage blob, addressed by a path of the
// form "azure://container/blob". See internal/backend/s3 and
// internal/backend/objstore for the shared shape every remote adapter
// follows.
package azure

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/MPAS-Dev/smiol-go/internal/backend"
	"github.com/MPAS-Dev/smiol-go/internal/backend/objstore"
)

type Backend struct {
	*objstore.Catalog

	client    *azblob.Client
	container string
	blobName  string
	writable  bool
}

func New() *Backend {
	return &Backend{Catalog: objstore.NewCatalog()}
}

func parsePath(path string) (container, blobName string) {
	rest := strings.TrimPrefix(path, "azure://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

func (b *Backend) connect() error {
	if b.client != nil {
		return nil
	}
	account := os.Getenv("AZURE_STORAGE_ACCOUNT")
	key := os.Getenv("AZURE_STORAGE_KEY")
	serviceURL := "https://" + account + ".blob.core.windows.net/"
	cred, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return err
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return err
	}
	b.client = client
	return nil
}

func (b *Backend) Create(path string) error {
	if err := b.connect(); err != nil {
		return err
	}
	b.container, b.blobName = parsePath(path)
	b.writable = true
	b.Catalog.Reset()
	ctx := context.Background()
	_, err := b.client.CreateContainer(ctx, b.container, nil)
	if err != nil && !isAzureErrorCode(err, "ContainerAlreadyExists") {
		return err
	}
	return nil
}

// isAzureErrorCode reports whether err is an azcore.ResponseError carrying
// the given service error code, falling back to a substring match on the
// error text for responses the SDK doesn't wrap (e.g. transport failures).
func isAzureErrorCode(err error, code string) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.ErrorCode == code
	}
	return strings.Contains(err.Error(), code)
}

func (b *Backend) Open(path string, writable bool) error {
	if err := b.connect(); err != nil {
		return err
	}
	b.container, b.blobName = parsePath(path)
	b.writable = writable

	ctx := context.Background()
	out, err := b.client.DownloadStream(ctx, b.container, b.blobName, nil)
	if err != nil {
		if writable && isAzureErrorCode(err, "BlobNotFound") {
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
	_, err = b.client.UploadBuffer(ctx, b.container, b.blobName, data, nil)
	return err
}

var _ backend.Backend = (*Backend)(nil)
