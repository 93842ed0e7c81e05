package migrate

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/rules"
)

func migrateRuleSet(t *testing.T) *rules.RuleSet {
	t.Helper()
	rs, err := rules.FromMapping(map[string]any{
		"resources": map[string]any{
			"ranking": map[string]any{
				"kind":     "table",
				"selector": "table.ranking",
				"columns":  []any{"team", "points"},
			},
			"matches": map[string]any{
				"kind":          "list",
				"selector":      "div.matches",
				"item_selector": "li",
				"fields": map[string]any{
					"opponent": "span.opp",
					"score": map[string]any{
						"selector":   "span.score",
						"transforms": []any{"trim", "to_number"},
					},
					"played_on": map[string]any{
						"selector": "span.date",
						"transforms": []any{
							map[string]any{"kind": "parse_date", "formats": []any{"02.01.2006"}},
						},
					},
				},
			},
		},
	})
	require.NoError(t, err)
	return rs
}

func TestInferFieldType(t *testing.T) {
	assert.Equal(t, TypeString, InferFieldType(nil))
	assert.Equal(t, TypeNumber, InferFieldType([]rules.TransformSpec{
		{Kind: rules.KindTrim}, {Kind: rules.KindToNumber},
	}))
	assert.Equal(t, TypeDate, InferFieldType([]rules.TransformSpec{
		{Kind: rules.KindParseDate, Formats: []string{"02.01.2006"}},
	}))
	// The last type-bearing transform wins.
	assert.Equal(t, TypeDate, InferFieldType([]rules.TransformSpec{
		{Kind: rules.KindToNumber},
		{Kind: rules.KindParseDate, Formats: []string{"02.01.2006"}},
	}))
}

func TestBuildMappingEntries(t *testing.T) {
	entries := BuildMappingEntries(migrateRuleSet(t))

	byKey := map[string]MappingEntry{}
	for _, e := range entries {
		byKey[e.Table+"."+e.Column] = e
	}
	assert.Equal(t, TypeString, byKey["ranking.team"].FieldType)
	assert.Equal(t, TypeString, byKey["matches.opponent"].FieldType)
	assert.Equal(t, TypeNumber, byKey["matches.score"].FieldType)
	assert.Equal(t, TypeDate, byKey["matches.played_on"].FieldType)
}

func TestGeneratePreviewEmptyDatabase(t *testing.T) {
	db := openTestDB(t)

	preview, err := GeneratePreview(migrateRuleSet(t), db)
	require.NoError(t, err)

	assert.Equal(t, 2, preview.CountByKind(ChangeCreateTable))
	assert.Equal(t, 0, preview.CountByKind(ChangeAddColumn))

	var create string
	for _, c := range preview.Changes {
		if c.Kind == ChangeCreateTable && c.Table == "matches" {
			create = c.SQL
		}
	}
	assert.Contains(t, create, `"score" REAL`)
	assert.Contains(t, create, `"played_on" TEXT`)
	assert.Contains(t, create, `"opponent" TEXT`)
}

func TestGeneratePreviewAddColumnAndTypeNote(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(`CREATE TABLE ranking ("team" TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE matches ("opponent" TEXT, "score" TEXT, "played_on" TEXT)`)
	require.NoError(t, err)

	preview, err := GeneratePreview(migrateRuleSet(t), db)
	require.NoError(t, err)

	assert.Equal(t, 0, preview.CountByKind(ChangeCreateTable))
	assert.Equal(t, 1, preview.CountByKind(ChangeAddColumn))
	assert.Equal(t, 1, preview.CountByKind(ChangeTypeNote))

	for _, c := range preview.Changes {
		switch c.Kind {
		case ChangeAddColumn:
			assert.Equal(t, "ranking", c.Table)
			assert.Equal(t, "points", c.Column)
			assert.Contains(t, c.SQL, "ALTER TABLE")
		case ChangeTypeNote:
			assert.Equal(t, "matches", c.Table)
			assert.Equal(t, "score", c.Column)
			assert.Contains(t, c.Comment, "rules imply REAL")
		}
	}
}

func TestGeneratePreviewUpToDate(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(`CREATE TABLE ranking ("team" TEXT, "points" TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE matches ("opponent" TEXT, "score" REAL, "played_on" TEXT)`)
	require.NoError(t, err)

	preview, err := GeneratePreview(migrateRuleSet(t), db)
	require.NoError(t, err)
	assert.Empty(t, preview.Changes)
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}
