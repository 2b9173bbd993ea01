// Package persistence stores finished conversations, their transcripts, and
// per-turn step records in SQLite. The store is an optional collaborator: the
// planner core never touches it directly, callers subscribe it to the
// planner's step hook and save the transcript when the run reaches a terminal
// status. Everything here is plain database/sql over the pure-Go sqlite
// driver, so the binary stays CGO-free.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"agentcore/pkg/logx"
)

// CurrentSchemaVersion is the schema version this build expects.
// Bump it when adding migrations below.
const CurrentSchemaVersion = 1

// Store is a handle on one transcript database. It is safe for concurrent
// use; SQLite serializes writers and the pool is capped at one connection.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if needed) the transcript database at dbPath and
// brings its schema up to CurrentSchemaVersion. Pass ":memory:" for an
// ephemeral store.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("database path cannot be empty")
	}

	// modernc.org/sqlite takes pragmas as _pragma query parameters.
	// WAL keeps readers unblocked during step inserts; the busy timeout
	// covers the brief write lock handoff.
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Single connection: SQLite allows one writer, and a capped pool keeps
	// in-memory databases from silently splitting into separate stores.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		logger: logx.NewLogger("persistence"),
	}

	if err := s.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info("📦 Transcript store ready at %s (schema v%d)", dbPath, CurrentSchemaVersion)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// initializeSchema creates or migrates the schema to CurrentSchemaVersion.
func (s *Store) initializeSchema() error {
	version, err := s.schemaVersion()
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	switch {
	case version == CurrentSchemaVersion:
		return nil
	case version == 0:
		if err := s.createSchema(); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return s.setSchemaVersion(CurrentSchemaVersion)
	case version < CurrentSchemaVersion:
		return s.runMigrations(version)
	default:
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, CurrentSchemaVersion)
	}
}

// schemaVersion returns the current schema version, creating the version
// table on first contact. A fresh database reports version 0.
func (s *Store) schemaVersion() (int, error) {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query schema version: %w", err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(version int) error {
	if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to set schema version %d: %w", version, err)
	}
	return nil
}

// createSchema builds the full current schema on an empty database.
func (s *Store) createSchema() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed', 'failed', 'cancelled')),
			turn_count INTEGER NOT NULL DEFAULT 0,
			model TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			estimated INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
			updated_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			tool_calls TEXT NOT NULL DEFAULT '',
			tool_results TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (conversation_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			turn INTEGER NOT NULL,
			entry_id TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			tool_calls INTEGER NOT NULL DEFAULT 0,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			estimated INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)`,
	}

	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status)",
		"CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at)",
		"CREATE INDEX IF NOT EXISTS idx_steps_conversation ON steps(conversation_id, turn)",
	}

	for _, index := range indices {
		if _, err := s.db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// runMigrations applies migrations from the given version up to
// CurrentSchemaVersion, recording each step so a crash mid-way resumes
// cleanly.
func (s *Store) runMigrations(fromVersion int) error {
	for v := fromVersion + 1; v <= CurrentSchemaVersion; v++ {
		if err := s.applyMigration(v); err != nil {
			return fmt.Errorf("failed to apply migration to version %d: %w", v, err)
		}
		if err := s.setSchemaVersion(v); err != nil {
			return err
		}
		s.logger.Info("Migrated transcript store to schema v%d", v)
	}
	return nil
}

func (s *Store) applyMigration(version int) error {
	switch version {
	case 1:
		// Baseline schema; created wholesale by createSchema.
		return s.createSchema()
	default:
		return fmt.Errorf("no migration defined for version %d", version)
	}
}
