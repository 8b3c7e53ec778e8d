package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/storage"
)

// Source resolves a table name to a local parquet file readable by DuckDB.
type Source interface {
	Fetch(ctx context.Context, table, workDir string) (string, error)
}

// DirSource reads <Dir>/<table>.parquet.
type DirSource struct {
	Dir string
}

func (s DirSource) Fetch(_ context.Context, table, _ string) (string, error) {
	localPath := filepath.Join(s.Dir, table+".parquet")
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("stat dataset file %q: %w", localPath, err)
	}
	return localPath, nil
}

// ObjectStoreSource downloads <Prefix>/<table>.parquet into the work dir.
// Stores implementing storage.Downloader write the file themselves.
type ObjectStoreSource struct {
	Store  storage.ObjectStore
	Prefix string
}

func (s ObjectStoreSource) Fetch(ctx context.Context, table, workDir string) (string, error) {
	if s.Store == nil {
		return "", fmt.Errorf("object store is required")
	}
	key, err := storage.BuildDatasetObjectKey(s.Prefix, table)
	if err != nil {
		return "", err
	}
	localPath := filepath.Join(workDir, path.Base(key))

	if downloader, ok := s.Store.(storage.Downloader); ok {
		if _, err := downloader.Download(ctx, key, localPath); err != nil {
			return "", fmt.Errorf("download object %q: %w", key, err)
		}
		return localPath, nil
	}

	reader, err := s.Store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()
	if err := writeFile(localPath, reader); err != nil {
		return "", fmt.Errorf("write local parquet file %q: %w", localPath, err)
	}
	return localPath, nil
}

type Loader struct {
	Source Source
	Logger *slog.Logger
}

// Load reads every named table through DuckDB, normalizing column types, and
// builds a Store from them. Tables are fetched and decoded concurrently.
func (l *Loader) Load(ctx context.Context, names []string) (*Store, error) {
	if l.Source == nil {
		return nil, fmt.Errorf("dataset source is required")
	}
	if len(names) == 0 {
		names = RequiredTables
	}
	logger := observability.Component(l.Logger, "dataset")

	workDir, err := os.MkdirTemp("", "tablechat-datasets-")
	if err != nil {
		return nil, fmt.Errorf("create dataset temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	tables := make([]Table, len(names))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, name := range names {
		group.Go(func() error {
			localPath, err := l.Source.Fetch(groupCtx, name, workDir)
			if err != nil {
				return fmt.Errorf("fetch table %q: %w", name, err)
			}
			table, err := readParquetTable(groupCtx, db, name, localPath)
			if err != nil {
				return fmt.Errorf("read table %q: %w", name, err)
			}
			tables[i] = table
			logger.Debug("dataset table loaded", "table", name, "rows", len(table.Rows), "columns", len(table.Columns))
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return NewStore(tables, names)
}

func readParquetTable(ctx context.Context, db *sql.DB, name, localPath string) (Table, error) {
	source := fmt.Sprintf("read_parquet(%s)", quoteString(localPath))

	describeRows, err := db.QueryContext(ctx, "DESCRIBE SELECT * FROM "+source)
	if err != nil {
		return Table{}, fmt.Errorf("describe parquet: %w", err)
	}
	columns := make([]Column, 0)
	for describeRows.Next() {
		var columnName, columnType string
		var null, key, defaultValue, extra sql.NullString
		if err := describeRows.Scan(&columnName, &columnType, &null, &key, &defaultValue, &extra); err != nil {
			_ = describeRows.Close()
			return Table{}, fmt.Errorf("scan describe row: %w", err)
		}
		columns = append(columns, Column{Name: columnName, Type: CanonicalType(columnType)})
	}
	if err := describeRows.Err(); err != nil {
		_ = describeRows.Close()
		return Table{}, fmt.Errorf("iterate describe rows: %w", err)
	}
	_ = describeRows.Close()
	if len(columns) == 0 {
		return Table{}, fmt.Errorf("parquet file has no columns")
	}

	projections := make([]string, 0, len(columns))
	for _, column := range columns {
		projections = append(projections, fmt.Sprintf("CAST(%s AS %s) AS %s", QuoteIdent(column.Name), column.Type, QuoteIdent(column.Name)))
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(projections, ", "), source))
	if err != nil {
		return Table{}, fmt.Errorf("select parquet rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tableRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Table{}, fmt.Errorf("scan row: %w", err)
		}
		tableRows = append(tableRows, NormalizeRow(values))
	}
	if err := rows.Err(); err != nil {
		return Table{}, fmt.Errorf("iterate rows: %w", err)
	}
	return Table{Name: name, Columns: columns, Rows: tableRows}, nil
}

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

// writeFile copies reader into path, reporting a failed close.
func writeFile(path string, reader io.Reader) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("close %s: %w", path, closeErr)
		}
	}()

	_, err = io.Copy(file, reader)
	return err
}
