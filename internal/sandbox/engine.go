package sandbox

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/tablechat/tablechat/internal/dataset"
	"github.com/tablechat/tablechat/internal/observability"
)

const (
	defaultThreads   = 1
	defaultMaxMemory = "256MB"
)

const prelude = `
CREATE MACRO line_total(quantity, unit_price, tax_rate) AS quantity * unit_price * (1 + tax_rate);
CREATE MACRO to_usd(amount, fx_rate_to_usd) AS amount * fx_rate_to_usd;
`

const resultRelationQuery = `
SELECT count(*) FROM (
	SELECT table_name AS name FROM duckdb_tables()
	UNION ALL
	SELECT view_name AS name FROM duckdb_views() WHERE NOT internal
) WHERE lower(name) = 'result'`

type Config struct {
	Threads          int
	MaxMemory        string
	ExecutionTimeout time.Duration
}

// Engine runs analysis scripts against private copies of the canonical
// tables. Every Execute call opens its own in-memory DuckDB database, so
// nothing a script creates or modifies outlives the call.
type Engine struct {
	store  *dataset.Store
	cfg    Config
	logger *slog.Logger
}

func NewEngine(store *dataset.Store, cfg Config, logger *slog.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("dataset store is required")
	}
	if cfg.Threads <= 0 {
		cfg.Threads = defaultThreads
	}
	if strings.TrimSpace(cfg.MaxMemory) == "" {
		cfg.MaxMemory = defaultMaxMemory
	}
	return &Engine{store: store, cfg: cfg, logger: observability.Component(logger, "sandbox")}, nil
}

// Execute sanitizes and runs code, then reads the reserved `result` name.
// Failures raised by the script are returned as *ExecError; any other error
// means the environment itself could not be prepared.
func (e *Engine) Execute(ctx context.Context, code string) (Result, error) {
	start := time.Now()
	connector, err := duckdb.NewConnector(e.dsn(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("open duckdb: %w", err)
	}
	// Closing the pool also closes the connector and frees the database.
	db := sql.OpenDB(connector)
	defer func() { _ = db.Close() }()

	// Variables are connection scoped, so the whole run stays on one conn.
	conn, err := db.Conn(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("acquire duckdb connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	for _, table := range e.store.Tables() {
		if err := copyTable(ctx, conn, table); err != nil {
			return Result{}, err
		}
	}
	if _, err := conn.ExecContext(ctx, prelude); err != nil {
		return Result{}, fmt.Errorf("install helper macros: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "SET lock_configuration = true"); err != nil {
		return Result{}, fmt.Errorf("lock configuration: %w", err)
	}

	script := Sanitize(code)
	if hasStatements(script) {
		if err := e.runScript(ctx, conn, script); err != nil {
			e.logger.Debug("script failed", slog.Duration("elapsed", time.Since(start)), slog.Any("error", err))
			return Result{}, err
		}
	}

	result, err := readResult(ctx, conn)
	if err != nil {
		return Result{}, err
	}
	e.logger.Debug("script executed", slog.String("kind", result.Kind.String()), slog.Int("rows", len(result.Rows)), slog.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (e *Engine) runScript(ctx context.Context, conn *sql.Conn, script string) error {
	execCtx := ctx
	if e.cfg.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
		defer cancel()
	}

	_, err := conn.ExecContext(execCtx, script)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("execute script: %w", ctx.Err())
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return &ExecError{Trace: fmt.Sprintf("Execution timed out after %s", e.cfg.ExecutionTimeout)}
	}
	return &ExecError{Trace: traceFor(err)}
}

func (e *Engine) dsn() string {
	params := url.Values{}
	params.Set("threads", strconv.Itoa(e.cfg.Threads))
	params.Set("max_memory", e.cfg.MaxMemory)
	params.Set("enable_external_access", "false")
	params.Set("autoinstall_known_extensions", "false")
	params.Set("autoload_known_extensions", "false")
	params.Set("allow_community_extensions", "false")
	return "?" + params.Encode()
}

func copyTable(ctx context.Context, conn *sql.Conn, table dataset.Table) error {
	definitions := make([]string, 0, len(table.Columns))
	for _, column := range table.Columns {
		definitions = append(definitions, dataset.QuoteIdent(column.Name)+" "+column.Type)
	}
	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", dataset.QuoteIdent(table.Name), strings.Join(definitions, ", "))
	if _, err := conn.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create table %q: %w", table.Name, err)
	}

	err := conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		appender, err := duckdb.NewAppenderFromConn(dc, "", table.Name)
		if err != nil {
			return err
		}
		for _, row := range table.Rows {
			values := make([]driver.Value, len(row))
			for i, value := range row {
				values[i] = value
			}
			if err := appender.AppendRow(values...); err != nil {
				_ = appender.Close()
				return err
			}
		}
		return appender.Close()
	})
	if err != nil {
		return fmt.Errorf("copy table %q: %w", table.Name, err)
	}
	return nil
}

// readResult reads `result` as a table or view first, then as a variable. A
// LIST variable becomes a series; an unset variable yields the placeholder.
func readResult(ctx context.Context, conn *sql.Conn) (Result, error) {
	var relations int
	if err := conn.QueryRowContext(ctx, resultRelationQuery).Scan(&relations); err != nil {
		return Result{}, fmt.Errorf("inspect result relation: %w", err)
	}
	if relations > 0 {
		columns, rows, err := readRelation(ctx, conn, "SELECT * FROM result")
		if err != nil {
			return Result{}, err
		}
		return TableResult(columns, rows), nil
	}

	var valueType string
	if err := conn.QueryRowContext(ctx, "SELECT typeof(getvariable('result'))").Scan(&valueType); err != nil {
		return Result{}, &ExecError{Trace: traceFor(err)}
	}
	switch {
	case valueType == "NULL":
		return ScalarResult(PlaceholderText), nil
	case strings.HasSuffix(valueType, "[]"):
		columns, rows, err := readRelation(ctx, conn, "SELECT unnest(getvariable('result')) AS result")
		if err != nil {
			return Result{}, err
		}
		return Result{Kind: KindSeries, Columns: columns, Rows: rows}, nil
	}

	query := "SELECT getvariable('result')"
	if isNestedType(valueType) {
		query = "SELECT CAST(getvariable('result') AS VARCHAR)"
	}
	var value any
	if err := conn.QueryRowContext(ctx, query).Scan(&value); err != nil {
		return Result{}, &ExecError{Trace: traceFor(err)}
	}
	if value == nil {
		return ScalarResult(PlaceholderText), nil
	}
	return ScalarResult(dataset.NormalizeValue(value)), nil
}

// readRelation runs source and returns its columns and normalized rows.
// Nested columns are cast to VARCHAR so they read the way DuckDB prints them.
func readRelation(ctx context.Context, conn *sql.Conn, source string) ([]dataset.Column, [][]any, error) {
	query, err := flattenNested(ctx, conn, source)
	if err != nil {
		return nil, nil, err
	}
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, &ExecError{Trace: traceFor(err)}
	}
	defer func() { _ = rows.Close() }()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, fmt.Errorf("result columns: %w", err)
	}
	columns := make([]dataset.Column, 0, len(columnTypes))
	for _, columnType := range columnTypes {
		columns = append(columns, dataset.Column{Name: columnType.Name(), Type: dataset.CanonicalType(columnType.DatabaseTypeName())})
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, fmt.Errorf("scan result row: %w", err)
		}
		resultRows = append(resultRows, dataset.NormalizeRow(values))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, &ExecError{Trace: traceFor(err)}
	}
	return columns, resultRows, nil
}

// flattenNested wraps source in a projection casting LIST, ARRAY, STRUCT,
// MAP and UNION columns to VARCHAR. Flat relations are returned unchanged.
func flattenNested(ctx context.Context, conn *sql.Conn, source string) (string, error) {
	rows, err := conn.QueryContext(ctx, "DESCRIBE "+source)
	if err != nil {
		return "", &ExecError{Trace: traceFor(err)}
	}
	defer func() { _ = rows.Close() }()

	names, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("describe result: %w", err)
	}
	projections := make([]string, 0)
	nested := false
	for rows.Next() {
		values := make([]any, len(names))
		scanTargets := make([]any, len(names))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return "", fmt.Errorf("scan result description: %w", err)
		}
		name, columnType := fmt.Sprint(values[0]), fmt.Sprint(values[1])
		ident := dataset.QuoteIdent(name)
		if isNestedType(columnType) {
			nested = true
			projections = append(projections, "CAST("+ident+" AS VARCHAR) AS "+ident)
			continue
		}
		projections = append(projections, ident)
	}
	if err := rows.Err(); err != nil {
		return "", &ExecError{Trace: traceFor(err)}
	}
	if !nested {
		return source, nil
	}
	return "SELECT " + strings.Join(projections, ", ") + " FROM (" + source + ")", nil
}

func isNestedType(columnType string) bool {
	upper := strings.ToUpper(strings.TrimSpace(columnType))
	switch {
	case strings.HasSuffix(upper, "]"):
		return true
	case strings.HasPrefix(upper, "STRUCT"), strings.HasPrefix(upper, "MAP"), strings.HasPrefix(upper, "UNION"):
		return true
	}
	return false
}

// hasStatements reports whether script holds anything besides whitespace,
// semicolons and SQL comments.
func hasStatements(script string) bool {
	for i := 0; i < len(script); i++ {
		switch c := script[i]; {
		case c == ' ', c == '\t', c == '\n', c == '\r', c == ';':
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				return false
			}
			i += end
		case c == '/' && i+1 < len(script) && script[i+1] == '*':
			end := strings.Index(script[i+2:], "*/")
			if end < 0 {
				return false
			}
			i += end + 3
		default:
			return true
		}
	}
	return false
}

func traceFor(err error) string {
	trace := strings.TrimSpace(err.Error())
	if trace == "" {
		return fmt.Sprintf("%T", err)
	}
	return trace
}
