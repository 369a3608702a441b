// Package database owns the relational connection and schema shared by the
// server-side stores. Both SQLite (the default, zero-setup deployment) and
// PostgreSQL are supported through database/sql.
package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/modemfleet/internal/config"
)

// DB wraps a database/sql connection with driver awareness.
type DB struct {
	conn   *sql.DB
	driver string
}

// New opens the configured database and verifies the connection.
func New(cfg config.DatabaseConfig) (*DB, error) {
	dsn := cfg.DSN
	if cfg.Driver == "sqlite3" {
		// Serialized access and foreign keys for SQLite; the modest
		// write volume of a modem fleet does not need more.
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=on&_busy_timeout=5000"
		}
	}

	conn, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(time.Hour)
	if cfg.Driver == "sqlite3" {
		// SQLite locks the whole file on write; a single connection
		// avoids SQLITE_BUSY churn.
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s database: %w", cfg.Driver, err)
	}

	return &DB{conn: conn, driver: cfg.Driver}, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying sql.DB.
func (db *DB) Conn() *sql.DB { return db.conn }

// Driver returns the active driver name.
func (db *DB) Driver() string { return db.driver }

// Rebind rewrites ? placeholders into the driver's native style. Queries in
// the stores are written with ? and rebound once per statement.
func (db *DB) Rebind(query string) string {
	if db.driver != "postgres" {
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
