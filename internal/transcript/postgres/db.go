package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultApplicationName = "tablechat"
	defaultPingTimeout     = 5 * time.Second
)

// DBConfig sizes the transcript connection pool. Zero values leave the
// database/sql defaults in place.
type DBConfig struct {
	DSN             string
	ApplicationName string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// Open parses the DSN with pgx, opens a pool over the pgx stdlib adapter and
// pings it once. A DSN that fails to parse is rejected before any dial.
func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	connConfig, err := connConfig(cfg)
	if err != nil {
		return nil, err
	}

	db := stdlib.OpenDB(*connConfig)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping transcript db %s:%d: %w", connConfig.Host, connConfig.Port, err)
	}
	return db, nil
}

// connConfig sets application_name unless the DSN already carries one.
func connConfig(cfg DBConfig) (*pgx.ConnConfig, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("transcript dsn is required")
	}
	parsed, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse transcript dsn: %w", err)
	}
	if parsed.RuntimeParams == nil {
		parsed.RuntimeParams = map[string]string{}
	}
	if parsed.RuntimeParams["application_name"] == "" {
		name := strings.TrimSpace(cfg.ApplicationName)
		if name == "" {
			name = defaultApplicationName
		}
		parsed.RuntimeParams["application_name"] = name
	}
	return parsed, nil
}
