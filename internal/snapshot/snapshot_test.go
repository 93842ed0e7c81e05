package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/rules"
)

const snapRuleText = `{
  "resources": {
    "ranking": {
      "kind": "table",
      "selector": "table.ranking",
      "columns": ["team", "points"]
    }
  }
}`

func snapRuleSet(t *testing.T) *rules.RuleSet {
	t.Helper()
	payload, err := rules.ParseDocument(snapRuleText)
	require.NoError(t, err)
	rs, err := rules.FromMapping(payload)
	require.NoError(t, err)
	return rs
}

func snapCorpus(teams ...string) map[string]string {
	html := `<html><body><table class="ranking"><tr><th>Team</th><th>Points</th></tr>`
	for i, team := range teams {
		html += `<tr><td>` + team + `</td><td>` + string(rune('1'+i)) + `</td></tr>`
	}
	return map[string]string{"page.html": html + `</table></body></html>`}
}

func TestGenerateAndSaveLoad(t *testing.T) {
	snap, err := Generate(snapRuleSet(t), snapCorpus("Adler", "Falken"), snapRuleText)
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.Len(t, snap.Resources["ranking"], 2)

	dir := t.TempDir()
	path, err := Save(snap, dir)
	require.NoError(t, err)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, loaded.ID)
	assert.Equal(t, snap.Resources, loaded.Resources)
	assert.Equal(t, snap.RulesHash, loaded.RulesHash)
}

func TestCompareNoDifferences(t *testing.T) {
	corpus := snapCorpus("Adler", "Falken")
	base, err := Generate(snapRuleSet(t), corpus, snapRuleText)
	require.NoError(t, err)
	curr, err := Generate(snapRuleSet(t), corpus, snapRuleText)
	require.NoError(t, err)

	assert.Empty(t, Compare(base, curr))
}

func TestCompareRowMismatch(t *testing.T) {
	base, err := Generate(snapRuleSet(t), snapCorpus("Adler", "Falken"), snapRuleText)
	require.NoError(t, err)
	curr, err := Generate(snapRuleSet(t), snapCorpus("Adler"), snapRuleText)
	require.NoError(t, err)

	diffs := Compare(base, curr)
	require.Len(t, diffs, 1)
	assert.Equal(t, DiffRowMismatch, diffs[0].Category)
	assert.Equal(t, "ranking", diffs[0].Resource)
}

func TestCompareResourcePresence(t *testing.T) {
	base := &Snapshot{Resources: map[string][]string{
		"ranking": {"row"},
		"gone":    {"row"},
	}}
	curr := &Snapshot{Resources: map[string][]string{
		"ranking": {"row"},
		"fresh":   {"row"},
	}}

	diffs := Compare(base, curr)
	require.Len(t, diffs, 2)
	assert.Equal(t, DiffExtraResource, diffs[0].Category)
	assert.Equal(t, "fresh", diffs[0].Resource)
	assert.Equal(t, DiffMissingResource, diffs[1].Category)
	assert.Equal(t, "gone", diffs[1].Resource)
}
