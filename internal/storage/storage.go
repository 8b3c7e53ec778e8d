package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

const ContentTypeParquet = "application/vnd.apache.parquet"

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

// ObjectStore holds the parquet dataset files when datasets are served from
// S3-compatible storage. Keys are relative to the store's own prefix.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
}

// Downloader is implemented by stores that can write an object straight to
// a local file.
type Downloader interface {
	Download(ctx context.Context, key, localPath string) (ObjectInfo, error)
}

// MissingDatasetTables stats <prefix>/<table>.parquet for each table and
// returns the tables without an object.
func MissingDatasetTables(ctx context.Context, store ObjectStore, prefix string, tables []string) ([]string, error) {
	missing := make([]string, 0)
	for _, table := range tables {
		key, err := BuildDatasetObjectKey(prefix, table)
		if err != nil {
			return nil, err
		}
		if _, err := store.Stat(ctx, key); err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				missing = append(missing, table)
				continue
			}
			return nil, err
		}
	}
	return missing, nil
}
