// ABOUTME: SQLite ledger of router events using modernc.org/sqlite
// ABOUTME: Append-only router_events table with filtered, newest-first listing

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/2389/coven-router/internal/events"
)

// tsLayout is fixed width so stored timestamps compare correctly as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one persisted event.
type Entry struct {
	Seq       int64
	ID        string
	Kind      events.Kind
	Key       string
	Detail    string
	Live      int
	ExpiresAt *time.Time
	At        time.Time
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Kind  events.Kind
	Key   string
	Since time.Time
	Limit int // default 100, max 1000
}

// Store persists router events to SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the ledger at path. Parent directories are created
// and the schema is applied if needed.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audit")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer keeps SQLITE_BUSY out of the append path.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("audit ledger initialized", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS router_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			conversation_key TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			live INTEGER NOT NULL DEFAULT 0,
			expires_at TEXT,
			ts TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_router_events_kind
			ON router_events(kind);

		CREATE INDEX IF NOT EXISTS idx_router_events_key
			ON router_events(conversation_key);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append inserts one entry. ID and At are generated when unset.
func (s *Store) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	var expires *string
	if e.ExpiresAt != nil {
		v := e.ExpiresAt.UTC().Format(tsLayout)
		expires = &v
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO router_events (event_id, kind, conversation_key, detail, live, expires_at, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		string(e.Kind),
		e.Key,
		e.Detail,
		e.Live,
		expires,
		e.At.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting router event: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		e.Seq = seq
	}
	return nil
}

// List returns entries matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	var kind, key, since *string
	if f.Kind != "" {
		v := string(f.Kind)
		kind = &v
	}
	if f.Key != "" {
		key = &f.Key
	}
	if !f.Since.IsZero() {
		v := f.Since.UTC().Format(tsLayout)
		since = &v
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, event_id, kind, conversation_key, detail, live, expires_at, ts
		FROM router_events
		WHERE (? IS NULL OR kind = ?)
		  AND (? IS NULL OR conversation_key = ?)
		  AND (? IS NULL OR ts >= ?)
		ORDER BY seq DESC
		LIMIT ?
	`, kind, kind, key, key, since, since, normalizeLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("querying router events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating router events: %w", err)
	}
	return out, nil
}

// Count returns how many entries of kind are stored; an empty kind counts all.
func (s *Store) Count(ctx context.Context, kind events.Kind) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM router_events WHERE (? = '' OR kind = ?)`,
		string(kind), string(kind),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting router events: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var e Entry
	var kind, ts string
	var expires *string

	if err := scanner.Scan(&e.Seq, &e.ID, &kind, &e.Key, &e.Detail, &e.Live, &expires, &ts); err != nil {
		return e, fmt.Errorf("scanning router event: %w", err)
	}
	e.Kind = events.Kind(kind)

	var err error
	if e.At, err = time.Parse(tsLayout, ts); err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}
	if expires != nil {
		t, err := time.Parse(tsLayout, *expires)
		if err != nil {
			return e, fmt.Errorf("parsing expiry: %w", err)
		}
		e.ExpiresAt = &t
	}
	return e, nil
}
