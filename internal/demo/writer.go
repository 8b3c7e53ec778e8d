package demo

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/tablechat/tablechat/internal/dataset"
	"github.com/tablechat/tablechat/internal/storage"
)

// File is one encoded parquet table.
type File struct {
	Table string
	Data  []byte
	Rows  int
}

// Encode renders the dataset as one parquet file per table, in
// dataset.RequiredTables order.
func Encode(ds Dataset) ([]File, error) {
	clients, err := encodeRows(ds.Clients)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", dataset.TableClients, err)
	}
	invoices, err := encodeRows(ds.Invoices)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", dataset.TableInvoices, err)
	}
	lineItems, err := encodeRows(ds.LineItems)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", dataset.TableLineItems, err)
	}
	return []File{
		{Table: dataset.TableClients, Data: clients, Rows: len(ds.Clients)},
		{Table: dataset.TableInvoices, Data: invoices, Rows: len(ds.Invoices)},
		{Table: dataset.TableLineItems, Data: lineItems, Rows: len(ds.LineItems)},
	}, nil
}

func encodeRows[T any](rows []T) ([]byte, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("rows are required")
	}
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDir writes <dir>/<table>.parquet for every file, creating dir.
func WriteDir(dir string, files []File) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}
	for _, file := range files {
		path := filepath.Join(dir, file.Table+".parquet")
		if err := os.WriteFile(path, file.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// Upload puts every file under prefix in the object store and returns the
// written keys.
func Upload(ctx context.Context, store storage.ObjectStore, prefix string, files []File) ([]string, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	keys := make([]string, 0, len(files))
	for _, file := range files {
		key, err := storage.BuildDatasetObjectKey(prefix, file.Table)
		if err != nil {
			return nil, err
		}
		if _, err := store.Put(ctx, key, bytes.NewReader(file.Data), int64(len(file.Data)), storage.PutOptions{
			ContentType: storage.ContentTypeParquet,
		}); err != nil {
			return nil, fmt.Errorf("upload %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
