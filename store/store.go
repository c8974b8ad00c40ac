// Package store runs read-only row queries against the reporting database
// and composes the ROI statements the join step issues.
//
// Two backends are provided: MySQL (production) and SQLite (local runs and
// tests). Both return rows as column-name maps with driver byte slices
// converted to strings.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// ErrClosed is returned by Query after Close.
var ErrClosed = errors.New("store is closed")

// Row is one result row keyed by column name.
type Row map[string]any

// Dialect selects dialect-specific SQL quoting.
type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

// MySQLConfig holds connection settings for OpenMySQL.
type MySQLConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Charset  string
	Timeout  time.Duration
}

// DB is a read-only row source.
type DB struct {
	db      *sql.DB
	dialect Dialect

	mu     sync.RWMutex
	closed bool
}

// OpenMySQL connects to MySQL and verifies the connection with a ping.
func OpenMySQL(ctx context.Context, cfg MySQLConfig) (*DB, error) {
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	if cfg.Charset == "" {
		cfg.Charset = "utf8mb4"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	dsn := mysql.NewConfig()
	dsn.User = cfg.User
	dsn.Passwd = cfg.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dsn.DBName = cfg.Database
	dsn.Params = map[string]string{"charset": cfg.Charset}
	dsn.Timeout = cfg.Timeout
	dsn.ReadTimeout = cfg.Timeout * 3
	dsn.ParseTime = true

	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	return &DB{db: db, dialect: DialectMySQL}, nil
}

// OpenSQLite opens a SQLite database file, or an in-memory database for
// ":memory:".
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// One connection keeps an in-memory database alive and shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &DB{db: db, dialect: DialectSQLite}, nil
}

// Dialect reports which SQL dialect statements for this DB must use.
func (d *DB) Dialect() Dialect { return d.dialect }

// SQL exposes the underlying handle, e.g. for seeding a SQLite file.
func (d *DB) SQL() *sql.DB { return d.db }

// Query runs statement and returns at most maxRows rows. A maxRows of zero
// or less returns every row.
func (d *DB) Query(ctx context.Context, statement string, maxRows int) ([]Row, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}

	rows, err := d.db.QueryContext(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	out := []Row{}
	for rows.Next() {
		if maxRows > 0 && len(out) >= maxRows {
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}

	return out, nil
}

// Ping checks the connection.
func (d *DB) Ping(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	return d.db.PingContext(ctx)
}

// Close releases the connection pool. Closing twice is a no-op.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}
