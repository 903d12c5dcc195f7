package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers "sqlite3"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600

	pingTimeout        = 5 * time.Second
	defaultBusyTimeout = 5 * time.Second
)

// DB is the catalog cache database. It embeds *sql.DB so stores can use
// the usual query methods.
type DB struct {
	*sql.DB
	path string
}

// Config describes the SQLite file to open.
type Config struct {
	// Path of the database file. Missing parent directories are created.
	Path string

	// WALMode lets API readers run while the catalog is being rewritten.
	WALMode bool

	// BusyTimeout bounds the wait for a lock. Zero means 5s.
	BusyTimeout time.Duration
}

// dsn renders cfg as a go-sqlite3 connection string.
func (cfg Config) dsn() string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	q := url.Values{}
	q.Set("_busy_timeout", strconv.FormatInt(busy.Milliseconds(), 10))
	if cfg.WALMode {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Open opens (creating if needed) the database at cfg.Path, pings it and
// restricts the file to owner read/write.
//
// Parameters:
//   - ctx: Context for the connectivity check
//   - cfg: Database configuration
//
// Returns:
//   - *DB: Open database with a single connection
//   - error: If the directory, file or ping fails
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPerm); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: the catalog has a single writer and is rewritten whole.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	//nolint:errcheck // the file may not exist until the first write
	os.Chmod(cfg.Path, filePerm)

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// Close closes the database. A nil DB is a no-op.
func (db *DB) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}
