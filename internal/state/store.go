// Package state persists apply audit history and rule set versions in
// SQLite. The schema is managed with embedded goose migrations.
package state

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// AuditRow is one persisted apply record for one resource.
type AuditRow struct {
	ID          int64
	SimID       int64
	Resource    string
	RowCount    int
	RulesHash   string
	RuleVersion sql.NullInt64
	AppliedAt   time.Time
}

// RuleVersion is one persisted rule document revision.
type RuleVersion struct {
	Version   int64
	Hash      string
	Document  string
	Note      string
	CreatedAt time.Time
}

// Store is a SQLite-backed state store.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates an unopened store.
func NewStore() *Store {
	return &Store{}
}

// Open opens the SQLite database at path. Use ":memory:" for tests.
func (s *Store) Open(path string) error {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	s.db = db
	s.path = path
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying connection for callers that manage their own
// transactions (the apply guard) and the migration planner.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ListAudit returns audit rows ordered by id descending, newest first.
func (s *Store) ListAudit(limit int) ([]AuditRow, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, sim_id, resource, row_count, rules_hash, rule_version, applied_at
		 FROM rule_apply_audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit rows: %w", err)
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var row AuditRow
		if err := rows.Scan(&row.ID, &row.SimID, &row.Resource, &row.RowCount,
			&row.RulesHash, &row.RuleVersion, &row.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountAudit returns the total number of audit rows.
func (s *Store) CountAudit() (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database not opened")
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM rule_apply_audit`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit rows: %w", err)
	}
	return n, nil
}
