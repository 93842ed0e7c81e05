package derive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/extract"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/rules"
)

func derivePayload(derived map[string]any) map[string]any {
	return map[string]any{
		"resources": map[string]any{
			"results": map[string]any{
				"kind":     "table",
				"selector": "table.results",
				"columns":  []any{"wins", "losses"},
			},
		},
		"derived": derived,
	}
}

func deriveBundle(rows ...map[string]any) *extract.Bundle {
	res := &extract.BundleResource{Name: "results", Kind: "table"}
	for _, row := range rows {
		res.Rows = append(res.Rows, extract.ExtractedRow{Values: row})
	}
	return &extract.Bundle{Resources: map[string]*extract.BundleResource{"results": res}}
}

func TestAugmentComputesDerivedFields(t *testing.T) {
	payload := derivePayload(map[string]any{
		"played": "wins + losses",
		"ratio":  "wins * 100 // played",
	})
	rs, err := rules.FromMapping(payload)
	require.NoError(t, err)

	bundle := deriveBundle(map[string]any{"wins": int64(6), "losses": int64(2)})
	order, err := Augment(bundle, rs, payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"played", "ratio"}, order)

	row := bundle.Resources["results"].Rows[0].Values
	assert.Equal(t, int64(8), row["played"])
	assert.Equal(t, int64(75), row["ratio"])
}

func TestAugmentCycleFails(t *testing.T) {
	payload := derivePayload(map[string]any{
		"x": "y + 1",
		"y": "x + 1",
	})
	rs, err := rules.FromMapping(payload)
	require.NoError(t, err)

	_, err = Augment(deriveBundle(map[string]any{"wins": int64(1), "losses": int64(1)}), rs, payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency cycle detected")
}

// An evaluation failure nulls the derived field and records one warning per
// resource; the extracted rows survive untouched.
func TestAugmentEvalFailureWarnsOnce(t *testing.T) {
	payload := derivePayload(map[string]any{
		"broken": "wins / zero_games",
	})
	rs, err := rules.FromMapping(payload)
	require.NoError(t, err)

	bundle := deriveBundle(
		map[string]any{"wins": int64(1), "losses": int64(0)},
		map[string]any{"wins": int64(2), "losses": int64(1)},
	)
	_, err = Augment(bundle, rs, payload)
	require.NoError(t, err)

	res := bundle.Resources["results"]
	assert.Len(t, res.Warnings, 1)
	for _, row := range res.Rows {
		assert.Nil(t, row.Values["broken"])
		assert.NotNil(t, row.Values["wins"])
	}
}

func TestAugmentNoDerivedFieldsIsNoop(t *testing.T) {
	payload := derivePayload(nil)
	rs, err := rules.FromMapping(payload)
	require.NoError(t, err)

	bundle := deriveBundle(map[string]any{"wins": int64(1), "losses": int64(0)})
	order, err := Augment(bundle, rs, payload)
	require.NoError(t, err)
	assert.Nil(t, order)
}
