package rules

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTablePayload() map[string]any {
	return map[string]any{
		"version": 1,
		"resources": map[string]any{
			"ranking": map[string]any{
				"kind":     "table",
				"selector": "table.ranking",
				"columns":  []any{"team", "points"},
			},
		},
	}
}

func TestFromMappingTable(t *testing.T) {
	rs, err := FromMapping(sampleTablePayload())
	require.NoError(t, err)

	res, err := rs.Resource("ranking")
	require.NoError(t, err)
	assert.Equal(t, "table", res.Kind())
	assert.Equal(t, []string{"team", "points"}, res.FieldNames())
}

func TestFromMappingRejectsDuplicateColumns(t *testing.T) {
	payload := sampleTablePayload()
	payload["resources"].(map[string]any)["ranking"].(map[string]any)["columns"] =
		[]any{"team", "points", "team"}

	_, err := FromMapping(payload)
	require.Error(t, err)
	var ruleErr *RuleError
	require.ErrorAs(t, err, &ruleErr)
	assert.Contains(t, err.Error(), "duplicate column names")
}

func TestFromMappingRejectsUnknownKind(t *testing.T) {
	payload := map[string]any{
		"resources": map[string]any{
			"x": map[string]any{"kind": "grid", "selector": "div"},
		},
	}
	_, err := FromMapping(payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported kind")
}

func TestExprTransformDisabledByDefault(t *testing.T) {
	payload := map[string]any{
		"resources": map[string]any{
			"players": map[string]any{
				"kind":          "list",
				"selector":      "div.players",
				"item_selector": "li",
				"fields": map[string]any{
					"points": map[string]any{
						"selector": "span.pts",
						"transforms": []any{
							map[string]any{"kind": "expr", "code": "value * 2"},
						},
					},
				},
			},
		},
	}
	_, err := FromMapping(payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")

	payload["allow_expressions"] = true
	rs, err := FromMapping(payload)
	require.NoError(t, err)
	assert.True(t, rs.AllowExpressions)
}

func TestParseTransformForms(t *testing.T) {
	spec, err := ParseTransform("trim", false)
	require.NoError(t, err)
	assert.Equal(t, KindTrim, spec.Kind)
	assert.Equal(t, "trim", spec.ToValue())

	spec, err = ParseTransform(map[string]any{
		"kind":    "parse_date",
		"formats": []any{"02.01.2006"},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"02.01.2006"}, spec.Formats)

	_, err = ParseTransform("explode", false)
	require.Error(t, err)

	_, err = ParseTransform(map[string]any{"kind": "parse_date"}, false)
	require.Error(t, err)
}

func TestExtendsMergesParentFields(t *testing.T) {
	payload := map[string]any{
		"resources": map[string]any{
			"base_players": map[string]any{
				"kind":          "list",
				"selector":      "div.players",
				"item_selector": "li",
				"fields": map[string]any{
					"name": "span.name",
					"rank": "span.rank",
				},
			},
			"guest_players": map[string]any{
				"kind":    "list",
				"extends": "base_players",
				"fields": map[string]any{
					"club": "span.club",
				},
			},
		},
	}
	rs, err := FromMapping(payload)
	require.NoError(t, err)

	guest := rs.Resources["guest_players"].(*ListRule)
	assert.Equal(t, "div.players", guest.Selector)
	assert.Equal(t, "li", guest.ItemSelector)
	assert.Equal(t, []string{"club", "name", "rank"}, guest.FieldNames())
	assert.Equal(t, "base_players", guest.Extends)
}

func TestExtendsCycleRejected(t *testing.T) {
	payload := map[string]any{
		"resources": map[string]any{
			"a": map[string]any{"kind": "table", "extends": "b", "columns": []any{"x"}},
			"b": map[string]any{"kind": "table", "extends": "a", "columns": []any{"x"}},
		},
	}
	_, err := FromMapping(payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic inheritance")
}

func TestExtendsKindMismatchRejected(t *testing.T) {
	payload := map[string]any{
		"resources": map[string]any{
			"parent": map[string]any{
				"kind":     "table",
				"selector": "table",
				"columns":  []any{"x"},
			},
			"child": map[string]any{
				"kind":          "list",
				"extends":       "parent",
				"item_selector": "li",
				"fields":        map[string]any{"x": "span"},
			},
		},
	}
	_, err := FromMapping(payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extends non-list parent")
}

func TestParseGateConfigForms(t *testing.T) {
	gates, err := ParseGateConfig(map[string]any{
		"ranking.team": 0.9,
		"players": map[string]any{
			"name": 0.5,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{
		"ranking.team": 0.9,
		"players.name": 0.5,
	}, gates)

	_, err = ParseGateConfig(map[string]any{"ranking.team": 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside [0,1]")

	_, err = ParseGateConfig(map[string]any{"ranking.team": "high"})
	require.Error(t, err)
}

// Round trips must reach a fixed point after one canonicalization.
func TestToMappingRoundTripFixedPoint(t *testing.T) {
	payload := map[string]any{
		"version":           1,
		"allow_expressions": true,
		"resources": map[string]any{
			"ranking": map[string]any{
				"kind":     "table",
				"selector": "table.ranking",
				"columns":  []any{"team", "points"},
			},
			"players": map[string]any{
				"kind":          "list",
				"selector":      "div.players",
				"item_selector": "li",
				"fields": map[string]any{
					"name": map[string]any{"selector": "span.name"},
					"points": map[string]any{
						"selector":   "span.pts",
						"transforms": []any{"trim", "to_number"},
					},
				},
			},
		},
		"derived": map[string]any{
			"double_points": "points * 2",
		},
		"quality_gates": map[string]any{
			"players.name": 0.75,
		},
	}

	rs1, err := FromMapping(payload)
	require.NoError(t, err)
	once := rs1.ToMapping()

	rs2, err := FromMapping(once)
	require.NoError(t, err)
	twice := rs2.ToMapping()

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("round trip is not a fixed point:\nonce:  %#v\ntwice: %#v", once, twice)
	}
}

func TestRuleErrorNeverPanics(t *testing.T) {
	bad := []map[string]any{
		{"resources": map[string]any{"x": "not a mapping"}},
		{"resources": map[string]any{"": map[string]any{"kind": "table"}}},
		{"version": "one"},
		{"allow_expressions": "yes"},
		{"derived": []any{"a"}},
	}
	for i, payload := range bad {
		_, err := FromMapping(payload)
		if err == nil {
			t.Errorf("payload %d: expected error", i)
		}
	}
}

func TestUnknownResourceLookup(t *testing.T) {
	rs, err := FromMapping(sampleTablePayload())
	require.NoError(t, err)
	_, err = rs.Resource("missing")
	require.Error(t, err)
	if !strings.Contains(err.Error(), "unknown resource") {
		t.Fatalf("unexpected error: %v", err)
	}
}
