// Package sqlite provides the embedded SQLite entity store: connection
// management and the versioned schema.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Connection manages the SQLite database connection.
type Connection struct {
	db       *sql.DB
	dbPath   string
	mu       sync.RWMutex
	isClosed bool
}

// DefaultPath returns ~/.focussync/focus.db.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".focussync", "focus.db"), nil
}

// NewConnection creates a new SQLite connection.
// If dbPath is empty, it uses DefaultPath.
func NewConnection(dbPath string) (*Connection, error) {
	if dbPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		dbPath = p
	}

	return &Connection{dbPath: dbPath}, nil
}

// Open opens the database, creating its directory, and brings the schema up
// to date.
func (c *Connection) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return fmt.Errorf("database already open")
	}

	if !c.inMemory() {
		if err := os.MkdirAll(filepath.Dir(c.dbPath), 0755); err != nil {
			return fmt.Errorf("could not create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", c.dsn())
	if err != nil {
		return fmt.Errorf("could not open database: %w", err)
	}

	// One connection serializes writers, which also keeps queue appends
	// strictly ordered, and lets :memory: databases survive between calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("could not ping database: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return fmt.Errorf("could not run migrations: %w", err)
	}

	c.db = db
	c.isClosed = false
	return nil
}

func (c *Connection) inMemory() bool {
	return c.dbPath == MemoryPath || strings.HasPrefix(c.dbPath, "file::memory:")
}

func (c *Connection) dsn() string {
	if c.inMemory() {
		return c.dbPath
	}
	return c.dbPath + "?_busy_timeout=5000&_journal_mode=WAL"
}

// Close closes the database connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("could not close database: %w", err)
	}

	c.db = nil
	c.isClosed = true
	return nil
}

// DB returns the underlying database connection.
// Returns an error if the connection is not open.
func (c *Connection) DB() (*sql.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.db == nil {
		if c.isClosed {
			return nil, fmt.Errorf("database is closed")
		}
		return nil, fmt.Errorf("database not open")
	}

	return c.db, nil
}

// Path returns the database file path.
func (c *Connection) Path() string {
	return c.dbPath
}

// IsClosed returns whether the connection is closed.
func (c *Connection) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isClosed
}

// Ping tests the database connection.
func (c *Connection) Ping() error {
	db, err := c.DB()
	if err != nil {
		return err
	}
	return db.Ping()
}

// SchemaVersion returns the highest applied migration.
func (c *Connection) SchemaVersion() (int, error) {
	db, err := c.DB()
	if err != nil {
		return 0, err
	}
	return currentVersion(db)
}
