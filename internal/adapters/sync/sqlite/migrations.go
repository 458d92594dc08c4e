package sqlite

import (
	"database/sql"
	"fmt"
)

type migration struct {
	version int
	name    string
	sql     string
}

// migrations lists schema changes in order. Versions 1-4 are the entity
// store; later versions add sync state and must only add columns and tables
// so existing rows survive an upgrade.
var migrations = []migration{
	{1, "create_sessions_table", createSessionsTable},
	{2, "create_notes_table", createNotesTable},
	{3, "create_images_table", createImagesTable},
	{4, "create_entity_indices", createEntityIndices},
	// Sync state
	{5, "add_session_sync_columns", addSessionSyncColumns},
	{6, "add_note_sync_columns", addNoteSyncColumns},
	{7, "add_image_sync_columns", addImageSyncColumns},
	{8, "create_sync_metadata_table", createSyncMetadataTable},
	{9, "create_pending_changes_table", createPendingChangesTable},
	{10, "create_pending_change_indices", createPendingChangeIndices},
}

// LatestVersion is the schema version after all migrations.
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}

// applyMigrations applies all database migrations in order.
func applyMigrations(db *sql.DB) error {
	return applyMigrationsTo(db, LatestVersion())
}

// applyMigrationsTo applies pending migrations up to and including target.
func applyMigrationsTo(db *sql.DB, target int) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("could not enable foreign keys: %w", err)
	}

	if err := createMigrationsTable(db); err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version > target {
			break
		}

		applied, err := isMigrationApplied(db, m.version)
		if err != nil {
			return fmt.Errorf("could not check migration %d: %w", m.version, err)
		}
		if applied {
			continue
		}

		if err := applyMigration(db, m); err != nil {
			return err
		}
	}

	return nil
}

// applyMigration runs one migration and records it in a single transaction.
func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin migration %d: %w", m.version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return fmt.Errorf("could not apply migration %d (%s): %w", m.version, m.name, err)
	}
	if _, err := tx.Exec("INSERT INTO migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
		return fmt.Errorf("could not record migration %d: %w", m.version, err)
	}
	return tx.Commit()
}

// createMigrationsTable creates the migrations tracking table.
func createMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// isMigrationApplied checks if a migration has been applied.
func isMigrationApplied(db *sql.DB, version int) (bool, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM migrations WHERE version = ?", version).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// currentVersion returns the highest applied migration, 0 for a fresh database.
func currentVersion(db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRow("SELECT MAX(version) FROM migrations").Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}

// Migration SQL statements. Timestamps are TEXT in a fixed-width UTC layout
// so they sort and compare lexically.

const createSessionsTable = `
CREATE TABLE sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	ended_at TEXT,
	planned_duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Child tables carry no foreign keys: replicas may receive a child before
// its parent, or keep a child whose parent was deleted elsewhere.
const createNotesTable = `
CREATE TABLE notes (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

const createImagesTable = `
CREATE TABLE images (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	note_id TEXT,
	caption TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	data BLOB,
	remote_key TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

const createEntityIndices = `
CREATE INDEX idx_sessions_started_at ON sessions(started_at);
CREATE INDEX idx_notes_session_id ON notes(session_id);
CREATE INDEX idx_notes_updated_at ON notes(updated_at);
CREATE INDEX idx_images_session_id ON images(session_id);
CREATE INDEX idx_images_note_id ON images(note_id);
CREATE INDEX idx_images_updated_at ON images(updated_at);
`

const addSessionSyncColumns = `
ALTER TABLE sessions ADD COLUMN sync_version INTEGER NOT NULL DEFAULT 0;
ALTER TABLE sessions ADD COLUMN synced_at TEXT;
`

const addNoteSyncColumns = `
ALTER TABLE notes ADD COLUMN sync_version INTEGER NOT NULL DEFAULT 0;
ALTER TABLE notes ADD COLUMN synced_at TEXT;
`

const addImageSyncColumns = `
ALTER TABLE images ADD COLUMN sync_version INTEGER NOT NULL DEFAULT 0;
ALTER TABLE images ADD COLUMN synced_at TEXT;
`

const createSyncMetadataTable = `
CREATE TABLE sync_metadata (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	device_id TEXT NOT NULL,
	last_sync_at TEXT,
	last_local_change_at TEXT,
	last_cloud_at TEXT,
	sync_version INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT
);
`

const createPendingChangesTable = `
CREATE TABLE pending_changes (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	entity_type TEXT NOT NULL CHECK (entity_type IN ('session', 'note', 'image')),
	entity_id TEXT NOT NULL,
	operation TEXT NOT NULL CHECK (operation IN ('create', 'update', 'delete')),
	timestamp TEXT NOT NULL,
	payload BLOB,
	retry_count INTEGER NOT NULL DEFAULT 0
);
`

const createPendingChangeIndices = `
CREATE INDEX idx_pending_changes_timestamp ON pending_changes(timestamp);
CREATE INDEX idx_pending_changes_entity_type ON pending_changes(entity_type);
CREATE INDEX idx_pending_changes_entity ON pending_changes(entity_type, entity_id);
`
