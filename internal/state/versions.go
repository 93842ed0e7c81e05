package state

import (
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrNoVersions is returned when the version store is empty or a requested
// version does not exist.
var ErrNoVersions = errors.New("no rule set versions stored")

// HashDocument returns the short content hash used for version dedup and
// audit provenance.
func HashDocument(document string) string {
	sum := sha1.Sum([]byte(document))
	return hex.EncodeToString(sum[:])[:12]
}

// SaveRuleVersion stores a rule document revision. When the document hash
// equals the latest stored hash no new version is created and the existing
// one is returned, so repeated saves of an unchanged document do not inflate
// history.
func (s *Store) SaveRuleVersion(document, note string) (*RuleVersion, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	hash := HashDocument(document)

	latest, err := s.LatestRuleVersion()
	if err != nil && !errors.Is(err, ErrNoVersions) {
		return nil, err
	}
	if latest != nil && latest.Hash == hash {
		return latest, nil
	}

	createdAt := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO rule_set_versions (hash, document, note, created_at) VALUES (?, ?, ?, ?)`,
		hash, document, note, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save rule version: %w", err)
	}
	version, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read version id: %w", err)
	}
	return &RuleVersion{
		Version:   version,
		Hash:      hash,
		Document:  document,
		Note:      note,
		CreatedAt: createdAt,
	}, nil
}

// LatestRuleVersion returns the newest stored version, or ErrNoVersions.
func (s *Store) LatestRuleVersion() (*RuleVersion, error) {
	return s.queryVersion(
		`SELECT version, hash, document, note, created_at
		 FROM rule_set_versions ORDER BY version DESC LIMIT 1`)
}

// GetRuleVersion returns one version by number, or ErrNoVersions.
func (s *Store) GetRuleVersion(version int64) (*RuleVersion, error) {
	return s.queryVersion(
		`SELECT version, hash, document, note, created_at
		 FROM rule_set_versions WHERE version = ?`, version)
}

// PreviousRuleVersion returns the version preceding the given one, the
// rollback target. ErrNoVersions when none exists.
func (s *Store) PreviousRuleVersion(version int64) (*RuleVersion, error) {
	return s.queryVersion(
		`SELECT version, hash, document, note, created_at
		 FROM rule_set_versions WHERE version < ? ORDER BY version DESC LIMIT 1`, version)
}

// ListRuleVersions returns all versions newest first.
func (s *Store) ListRuleVersions() ([]RuleVersion, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	rows, err := s.db.Query(
		`SELECT version, hash, document, note, created_at
		 FROM rule_set_versions ORDER BY version DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule versions: %w", err)
	}
	defer rows.Close()

	var out []RuleVersion
	for rows.Next() {
		var v RuleVersion
		var note sql.NullString
		if err := rows.Scan(&v.Version, &v.Hash, &v.Document, &note, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule version: %w", err)
		}
		v.Note = note.String
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) queryVersion(query string, args ...any) (*RuleVersion, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	var v RuleVersion
	var note sql.NullString
	err := s.db.QueryRow(query, args...).Scan(&v.Version, &v.Hash, &v.Document, &note, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoVersions
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule version: %w", err)
	}
	v.Note = note.String
	return &v, nil
}
