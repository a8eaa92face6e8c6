package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the event journal.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "norma.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	// This also serializes inserts, so id assignment is atomic per row.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for crash safety and better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// appliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) appliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Events ---

// AddEvent inserts one event row and returns it with its assigned id.
// Blank text and unparseable timestamps are rejected before the database
// is touched, so a failed call never leaves a partial row behind.
func (s *Store) AddEvent(eventText, timestamp string) (Event, error) {
	if strings.TrimSpace(eventText) == "" {
		return Event{}, ErrEmptyEvent
	}
	if _, err := time.Parse(time.RFC3339, timestamp); err != nil {
		return Event{}, fmt.Errorf("%w: %q", ErrBadTimestamp, timestamp)
	}

	res, err := s.db.Exec(
		`INSERT INTO events (event_text, timestamp) VALUES (?, ?)`,
		eventText, timestamp,
	)
	if err != nil {
		return Event{}, fmt.Errorf("inserting event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Event{}, fmt.Errorf("reading inserted id: %w", err)
	}

	return Event{ID: id, EventText: eventText, Timestamp: timestamp}, nil
}

// GetEvent returns a single event by id.
func (s *Store) GetEvent(id int64) (Event, error) {
	var e Event
	err := s.db.QueryRow(
		`SELECT id, event_text, timestamp FROM events WHERE id = ?`, id,
	).Scan(&e.ID, &e.EventText, &e.Timestamp)
	if err == sql.ErrNoRows {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, err
	}
	return e, nil
}

// GetAllEvents returns every event, newest first. Each call is a fresh read
// that reflects all writes committed before it began.
func (s *Store) GetAllEvents() ([]Event, error) {
	rows, err := s.db.Query(`SELECT id, event_text, timestamp FROM events ORDER BY timestamp DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// SearchEvents returns events matching the given filters, newest first.
// A non-empty keywords value matches as a substring of event_text; SQLite
// LIKE is case-insensitive for ASCII, and that is the documented behavior
// here. Empty startDate/endDate mean unbounded on that side.
func (s *Store) SearchEvents(keywords, startDate, endDate string) ([]Event, error) {
	sqlStr := `SELECT id, event_text, timestamp FROM events WHERE 1=1`
	var args []any

	if startDate != "" {
		sqlStr += ` AND timestamp >= ?`
		args = append(args, startDate)
	}
	if endDate != "" {
		sqlStr += ` AND timestamp <= ?`
		args = append(args, endDate)
	}
	if keywords != "" {
		sqlStr += ` AND event_text LIKE ?`
		args = append(args, "%"+keywords+"%")
	}
	sqlStr += ` ORDER BY timestamp DESC`

	rows, err := s.db.Query(sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListEvents returns a page of events, newest first.
func (s *Store) ListEvents(limit, offset int) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT id, event_text, timestamp FROM events ORDER BY timestamp DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CountEvents returns the total number of stored events.
func (s *Store) CountEvents() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var results []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.EventText, &e.Timestamp); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}
