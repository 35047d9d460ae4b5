// Package hdfs is a remote Backend adapter storing one file's catalog
// image as a single HDFS file, addressed by a path of the form
// "hdfs://namenode:port/path/to/file". See internal/backend/s3 and
// internal/backend/objstore for the shared shape every remote adapter
// follows.
package hdfs

import (
	"io"
	"os"
	"strings"

	gohdfs "github.com/colinmarc/hdfs/v2"

	"github.com/MPAS-Dev/smiol-go/internal/backend"
	"github.com/MPAS-Dev/smiol-go/internal/backend/objstore"
)

type Backend struct {
	*objstore.Catalog

	client   *gohdfs.Client
	filePath string
	writable bool
}

func New() *Backend {
	return &Backend{Catalog: objstore.NewCatalog()}
}

// parsePath splits "hdfs://namenode:port/path" into the namenode address
// and the HDFS-side path.
func parsePath(path string) (namenode, filePath string) {
	rest := strings.TrimPrefix(path, "hdfs://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 2 {
		return parts[0], "/" + parts[1]
	}
	return parts[0], "/"
}

func (b *Backend) connect(namenode string) error {
	if b.client != nil {
		return nil
	}
	client, err := gohdfs.NewClient(gohdfs.ClientOptions{Addresses: []string{namenode}, User: hdfsUser()})
	if err != nil {
		return err
	}
	b.client = client
	return nil
}

func hdfsUser() string {
	if u := os.Getenv("HADOOP_USER_NAME"); u != "" {
		return u
	}
	return "smiol"
}

func (b *Backend) Create(path string) error {
	namenode, filePath := parsePath(path)
	if err := b.connect(namenode); err != nil {
		return err
	}
	b.filePath = filePath
	b.writable = true
	b.Catalog.Reset()
	return nil
}

func (b *Backend) Open(path string, writable bool) error {
	namenode, filePath := parsePath(path)
	if err := b.connect(namenode); err != nil {
		return err
	}
	b.filePath = filePath
	b.writable = writable

	r, err := b.client.Open(filePath)
	if err != nil {
		if writable && os.IsNotExist(err) {
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
		return b.flush()
	}
	return nil
}

func (b *Backend) Sync() error {
	if b.writable {
		return b.flush()
	}
	return nil
}

func (b *Backend) flush() error {
	data, err := objstore.Encode(b.Catalog.Snapshot())
	if err != nil {
		return err
	}
	_ = b.client.Remove(b.filePath)
	w, err := b.client.Create(b.filePath)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

var _ backend.Backend = (*Backend)(nil)
