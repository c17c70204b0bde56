package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"gatheringAccess/internal/config"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// DB is a connection pool together with the driver it was opened with, so
// that repositories can write portable queries and rebind placeholders.
type DB struct {
	*sql.DB
	Driver string
}

//go:embed schema/sqlite.sql
var sqliteSchema string

// Open opens the store described by cfg and verifies it is reachable within
// cfg.ConnectTimeout.
//
// For sqlite3 the users table is created when missing so that local runs and
// tests work against an empty file. Postgres schemas are provisioned outside
// this service.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	d, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		d.SetMaxOpenConns(cfg.MaxOpenConns)
		d.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	d.SetConnMaxIdleTime(5 * time.Minute)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := d.PingContext(ctx); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// journal_mode may not be supported in some contexts (e.g., in-memory). Ignore errors.
		_, _ = d.ExecContext(ctx, `PRAGMA journal_mode=WAL`)
		if _, err := d.ExecContext(ctx, sqliteSchema); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return &DB{DB: d, Driver: driver}, nil
}

// DSN builds the driver specific data source name for cfg.
func DSN(cfg config.DatabaseConfig) (string, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return sqliteDSN(cfg.Path), nil
	case DriverPostgres:
		if cfg.Host == "" || cfg.User == "" || cfg.Password == "" || cfg.Name == "" {
			return "", errors.New("postgres requires host, user, password and database name")
		}
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		q := url.Values{}
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "require"
		}
		q.Set("sslmode", sslMode)
		if cfg.ConnectTimeout > 0 {
			q.Set("connect_timeout", strconv.Itoa(int(cfg.ConnectTimeout/time.Second)))
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
			Path:     "/" + cfg.Name,
			RawQuery: q.Encode(),
		}
		return u.String(), nil
	}
	return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// sqliteDSN adds the connection options the repositories rely on: immediate
// write locks so that concurrent transactions queue on the busy timeout
// instead of failing on lock upgrade.
func sqliteDSN(path string) string {
	if path == "" {
		path = "gathering.db"
	}
	opts := []string{"_txlock=immediate", "_busy_timeout=5000", "_foreign_keys=on"}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	var keep []string
	for _, o := range opts {
		key := o[:strings.IndexByte(o, '=')+1]
		if !strings.Contains(path, key) {
			keep = append(keep, o)
		}
	}
	if len(keep) == 0 {
		return path
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + sep + strings.Join(keep, "&")
}

// Rebind rewrites `?` placeholders into the positional form the driver expects.
func (d *DB) Rebind(query string) string {
	return Rebind(d.Driver, query)
}

// Rebind rewrites `?` placeholders for driver. Queries passed here must not
// contain literal question marks.
func Rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
