package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBolt     = "bbolt"
)

// DB is a SQL database holding polls and render leases.
type DB struct {
	db     *sql.DB
	driver string
}

// NewDB opens (creating if needed) the sqlite database at path.
func NewDB(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open(DriverSQLite, "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite serialises writers anyway; one connection avoids SQLITE_BUSY inside the process
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{db: db, driver: DriverSQLite}, nil
}

// OpenPostgres connects to the postgres database at dsn. Unlike sqlite it can
// be shared by bot instances on different hosts.
func OpenPostgres(dsn string) (*DB, error) {
	db, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{db: db, driver: DriverPostgres}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Driver() string {
	return d.driver
}

func (d *DB) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS polls (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		version BIGINT NOT NULL,
		rendered_version BIGINT NOT NULL DEFAULT 0,
		rendered_at BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS leases (
		lock_key TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		expires_at BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leases_expires_at ON leases(expires_at);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// nowMillis is an SQL expression for the current database time in unix
// milliseconds.
func (d *DB) nowMillis() string {
	if d.driver == DriverPostgres {
		return "CAST(EXTRACT(EPOCH FROM now()) * 1000 AS BIGINT)"
	}
	return "CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER)"
}

// rebind rewrites ? placeholders into the numbered form postgres expects.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
