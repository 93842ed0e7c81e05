// Package migrate plans destination schema changes implied by a rule set.
// It never alters the database: the output is an ordered preview of
// create_table / add_column statements plus advisory type notes, diffed
// against the live SQLite schema.
package migrate

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/rules"
)

// Logical field types inferred from transform chains.
const (
	TypeString = "STRING"
	TypeNumber = "NUMBER"
	TypeDate   = "DATE"
)

// MappingEntry binds one extracted field to a destination column with its
// inferred logical type.
type MappingEntry struct {
	Resource  string
	Field     string
	Table     string
	Column    string
	FieldType string
}

// ChangeKind enumerates planned change categories.
type ChangeKind string

const (
	ChangeCreateTable ChangeKind = "create_table"
	ChangeAddColumn   ChangeKind = "add_column"
	ChangeTypeNote    ChangeKind = "type_note"
)

// Change is one planned schema change.
type Change struct {
	Kind    ChangeKind
	Table   string
	Column  string
	SQL     string
	Comment string
}

// Preview is the ordered migration plan for one rule set against one schema.
type Preview struct {
	Changes []Change
}

// CountByKind returns how many changes of the kind the plan holds.
func (p *Preview) CountByKind(kind ChangeKind) int {
	n := 0
	for _, c := range p.Changes {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// InferFieldType derives the logical type of a field from its transform
// chain: the last type-bearing transform wins, defaulting to STRING.
func InferFieldType(specs []rules.TransformSpec) string {
	fieldType := TypeString
	for _, spec := range specs {
		switch spec.Kind {
		case rules.KindToNumber:
			fieldType = TypeNumber
		case rules.KindParseDate:
			fieldType = TypeDate
		}
	}
	return fieldType
}

// BuildMappingEntries derives the destination mapping for every field of
// every resource. Table and column names are the resource and field names
// unchanged; table rules carry no transforms, so their columns are STRING.
func BuildMappingEntries(rs *rules.RuleSet) []MappingEntry {
	var entries []MappingEntry
	for _, name := range rs.ResourceNames() {
		res := rs.Resources[name]
		for _, field := range res.FieldNames() {
			fieldType := TypeString
			if lr, ok := res.(*rules.ListRule); ok {
				fieldType = InferFieldType(lr.Fields[field].Transforms)
			}
			entries = append(entries, MappingEntry{
				Resource:  name,
				Field:     field,
				Table:     name,
				Column:    field,
				FieldType: fieldType,
			})
		}
	}
	return entries
}

// sqliteColumnType maps a logical type to the SQLite storage type. TEXT is
// favored for everything except numbers: dates stay ISO strings, so lexical
// ordering matches chronological ordering.
func sqliteColumnType(fieldType string) string {
	if fieldType == TypeNumber {
		return "REAL"
	}
	return "TEXT"
}

// liveSchema reads existing table names and their columns with declared
// types from sqlite_master and PRAGMA table_info.
func liveSchema(db *sql.DB) (map[string]map[string]string, error) {
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tables: %w", err)
	}

	schema := map[string]map[string]string{}
	for _, table := range tables {
		cols, err := tableColumns(db, table)
		if err != nil {
			return nil, err
		}
		schema[table] = cols
	}
	return schema, nil
}

func tableColumns(db *sql.DB, table string) (map[string]string, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols := map[string]string{}
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		cols[name] = strings.ToUpper(strings.TrimSpace(colType))
	}
	return cols, rows.Err()
}

// GeneratePreview diffs the rule-implied schema against the live database.
// Changes are ordered by table then column; a column that exists with a
// different declared type yields an advisory type_note, never an ALTER.
func GeneratePreview(rs *rules.RuleSet, db *sql.DB) (*Preview, error) {
	live, err := liveSchema(db)
	if err != nil {
		return nil, err
	}
	return planAgainst(rs, live), nil
}

func planAgainst(rs *rules.RuleSet, live map[string]map[string]string) *Preview {
	entries := BuildMappingEntries(rs)
	byTable := map[string][]MappingEntry{}
	for _, e := range entries {
		byTable[e.Table] = append(byTable[e.Table], e)
	}
	tables := make([]string, 0, len(byTable))
	for t := range byTable {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	preview := &Preview{}
	for _, table := range tables {
		cols := byTable[table]
		existing, ok := live[table]
		if !ok {
			var defs []string
			for _, e := range cols {
				defs = append(defs, fmt.Sprintf("%s %s", quoteIdent(e.Column), sqliteColumnType(e.FieldType)))
			}
			preview.Changes = append(preview.Changes, Change{
				Kind:  ChangeCreateTable,
				Table: table,
				SQL: fmt.Sprintf("CREATE TABLE %s (%s)",
					quoteIdent(table), strings.Join(defs, ", ")),
			})
			continue
		}
		for _, e := range cols {
			liveType, present := existing[e.Column]
			if !present {
				preview.Changes = append(preview.Changes, Change{
					Kind:   ChangeAddColumn,
					Table:  table,
					Column: e.Column,
					SQL: fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
						quoteIdent(table), quoteIdent(e.Column), sqliteColumnType(e.FieldType)),
				})
				continue
			}
			want := sqliteColumnType(e.FieldType)
			if liveType != want {
				preview.Changes = append(preview.Changes, Change{
					Kind:   ChangeTypeNote,
					Table:  table,
					Column: e.Column,
					Comment: fmt.Sprintf("column %s.%s declared %s, rules imply %s (%s)",
						table, e.Column, liveType, want, e.FieldType),
				})
			}
		}
	}
	return preview
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
