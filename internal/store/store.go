package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const (
	currentSchemaVersion = 1
)

// Sources whose view of a membership is tracked independently.
const (
	SourceCatalog = "catalog"
	SourceLocal   = "local"
	SourceDesktop = "desktop"
)

// Item fetch lifecycle states.
const (
	FetchStatusNotFetched = "not_fetched"
	FetchStatusFetched    = "fetched"
	FetchStatusFailed     = "fetch_failed"
)

// Store represents the application's persistent state
type Store struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at the given path
func Open(path string) (*Store, error) {
	// Open with pragmas for performance and reliability
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_timeout=5000&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite works best with a single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}

	// Run migrations
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for custom queries
func (s *Store) DB() *sql.DB {
	return s.db
}

// SQLiteVersion returns the SQLite version string
func SQLiteVersion() string {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return ""
	}
	defer db.Close()

	var version string
	err = db.QueryRow("SELECT sqlite_version()").Scan(&version)
	if err != nil {
		return ""
	}
	return version
}

// CheckIntegrity runs PRAGMA integrity_check on the database
func (s *Store) CheckIntegrity() error {
	var result string
	err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result)
	if err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}

	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}

	return nil
}

// migrate applies database migrations
func (s *Store) migrate() error {
	// Check current schema version
	version, err := s.getSchemaVersion()
	if err != nil {
		return err
	}

	if version >= currentSchemaVersion {
		// Already at current version
		return nil
	}

	// Start transaction for migration
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Apply schema v1
	if version < 1 {
		if _, err := tx.Exec(schemaV1); err != nil {
			return fmt.Errorf("failed to apply schema v1: %w", err)
		}
		if err := s.setSchemaVersion(tx, 1); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}

	// Future migrations would go here:
	// if version < 2 { ... }

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}

// getSchemaVersion returns the current schema version
func (s *Store) getSchemaVersion() (int, error) {
	// Check if schema_version table exists
	var exists int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&exists)
	if err != nil {
		return 0, err
	}

	if exists == 0 {
		// No schema yet
		return 0, nil
	}

	// Get latest version
	var version int
	err = s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setSchemaVersion records a schema version in a transaction
func (s *Store) setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

// Transaction executes a function within a transaction
func (s *Store) Transaction(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Item represents one logical track known to at least one source
type Item struct {
	ID          int64
	CatalogID   string // empty when the catalog never reported it
	DesktopID   string
	Title       string
	Artist      string
	Album       string
	Year        int
	ISRC        string
	DurationMs  int
	MatchKey    string
	FetchStatus string
	FetchError  string
	FetchedAt   *time.Time
	Unavailable bool // upstream reports the content as gone
	SHA1        string
	SizeBytes   int64
	Format      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Collection represents a named group of items (a playlist)
type Collection struct {
	ID           int64
	CatalogID    string
	DesktopID    string
	Name         string
	Description  string
	Folder       string // directory relative to the library root
	CatalogCount int
	LocalCount   int
	DesktopCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Membership is a collection/item edge with per-source presence flags.
// Position is nil when the owning source reports no ordering.
type Membership struct {
	CollectionID     int64
	ItemID           int64
	Position         *int
	InCatalog        bool
	InLocal          bool
	InDesktop        bool
	CatalogFirstSeen *time.Time
	CatalogRemovedAt *time.Time
	LocalFirstSeen   *time.Time
	LocalRemovedAt   *time.Time
	DesktopFirstSeen *time.Time
	DesktopRemovedAt *time.Time
}

// Present reports whether the given source currently lists this edge
func (m *Membership) Present(source string) bool {
	switch source {
	case SourceCatalog:
		return m.InCatalog
	case SourceLocal:
		return m.InLocal
	case SourceDesktop:
		return m.InDesktop
	}
	return false
}

// Dead reports whether every source has dropped this edge
func (m *Membership) Dead() bool {
	return !m.InCatalog && !m.InLocal && !m.InDesktop
}

// Run records one reconciliation run
type Run struct {
	ID                string
	StartedAt         time.Time
	FinishedAt        *time.Time
	DryRun            bool
	ChangesDetected   int
	DecisionsMade     int
	DecisionsExecuted int
	DecisionsFailed   int
	Error             string
}
