// Package migrations owns the transcript database schema.
package migrations

import (
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const (
	migrationTable = "tablechat_schema_migrations"
	// lockID keys the advisory lock serializing concurrent migrators.
	lockID int64 = 0x7461626c6563
)

var fileNamePattern = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// Runner applies the transcript schema migrations embedded in the binary.
type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

func NewRunnerFS(fsys fs.FS) *Runner {
	return &Runner{fsys: fsys}
}

type migration struct {
	Version  int64
	Name     string
	Up       string
	Down     string
	Checksum string
}

// Status describes one known migration and whether it is applied.
type Status struct {
	Version int64
	Name    string
	Applied bool
}

// Up applies pending migrations in version order. steps <= 0 applies all.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	count := 0
	err := r.locked(ctx, db, func(conn *sql.Conn, known []migration, applied map[int64]bool) error {
		for _, m := range known {
			if applied[m.Version] {
				continue
			}
			if steps > 0 && count >= steps {
				return nil
			}
			record := func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `INSERT INTO `+migrationTable+` (version, name, checksum) VALUES ($1, $2, $3)`, m.Version, m.Name, m.Checksum)
				return err
			}
			if err := inTx(ctx, conn, m.Up, record); err != nil {
				return fmt.Errorf("apply migration %06d_%s: %w", m.Version, m.Name, err)
			}
			count++
		}
		return nil
	})
	return count, err
}

// Down rolls back the newest applied migrations. steps <= 0 rolls back one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	count := 0
	err := r.locked(ctx, db, func(conn *sql.Conn, known []migration, applied map[int64]bool) error {
		for i := len(known) - 1; i >= 0 && count < steps; i-- {
			m := known[i]
			if !applied[m.Version] {
				continue
			}
			record := func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `DELETE FROM `+migrationTable+` WHERE version = $1`, m.Version)
				return err
			}
			if err := inTx(ctx, conn, m.Down, record); err != nil {
				return fmt.Errorf("roll back migration %06d_%s: %w", m.Version, m.Name, err)
			}
			count++
		}
		return nil
	})
	return count, err
}

// Status lists every known migration in version order.
func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]Status, error) {
	var out []Status
	err := r.locked(ctx, db, func(_ *sql.Conn, known []migration, applied map[int64]bool) error {
		out = make([]Status, 0, len(known))
		for _, m := range known {
			out = append(out, Status{Version: m.Version, Name: m.Name, Applied: applied[m.Version]})
		}
		return nil
	})
	return out, err
}

// locked pins one connection, takes the advisory lock on it and hands fn the
// known migrations plus the applied set. An applied migration whose checksum
// no longer matches its source aborts before fn runs.
func (r *Runner) locked(ctx context.Context, db *sql.DB, fn func(conn *sql.Conn, known []migration, applied map[int64]bool) error) error {
	known, err := loadMigrations(r.fsys)
	if err != nil {
		return err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() { _, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, lockID) }()

	if _, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationTable+` (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	checksums, err := appliedChecksums(ctx, conn)
	if err != nil {
		return err
	}
	applied := make(map[int64]bool, len(checksums))
	for _, m := range known {
		sum, ok := checksums[m.Version]
		if !ok {
			continue
		}
		if sum != m.Checksum {
			return fmt.Errorf("migration %06d_%s was edited after it was applied", m.Version, m.Name)
		}
		applied[m.Version] = true
	}
	for version := range checksums {
		if !applied[version] {
			return fmt.Errorf("applied migration %d is missing from source", version)
		}
	}
	return fn(conn, known, applied)
}

func appliedChecksums(ctx context.Context, conn *sql.Conn) (map[int64]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM `+migrationTable)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[int64]string{}
	for rows.Next() {
		var version int64
		var checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		out[version] = checksum
	}
	return out, rows.Err()
}

func inTx(ctx context.Context, conn *sql.Conn, script string, record func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if err := record(tx); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

// loadMigrations pairs NNNNNN_name.up.sql with NNNNNN_name.down.sql under
// sql/ and returns them by ascending version.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*migration{}
	for _, entry := range entries {
		parts := fileNamePattern.FindStringSubmatch(entry.Name())
		if entry.IsDir() || parts == nil {
			continue
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %q: %w", entry.Name(), err)
		}
		body, err := fs.ReadFile(fsys, "sql/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: parts[2]}
			byVersion[version] = m
		}
		if m.Name != parts[2] {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, m.Name, parts[2])
		}
		if parts[3] == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		switch {
		case strings.TrimSpace(m.Up) == "":
			return nil, fmt.Errorf("migration %d missing up SQL", m.Version)
		case strings.TrimSpace(m.Down) == "":
			return nil, fmt.Errorf("migration %d missing down SQL", m.Version)
		}
		sum := sha256.Sum256([]byte(m.Up))
		m.Checksum = hex.EncodeToString(sum[:])
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}
