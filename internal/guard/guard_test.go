package guard

import (
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/state"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/testutil"
)

const guardRuleText = `{
  "resources": {
    "ranking": {
      "kind": "table",
      "selector": "table.ranking",
      "columns": ["team", "points"]
    }
  },
  "quality_gates": {"ranking.team": 0.5}
}`

func guardCorpus() map[string]string {
	return map[string]string{
		"a.html": `<html><body><table class="ranking">
			<tr><th>Team</th><th>Points</th></tr>
			<tr><td>Adler</td><td>12</td></tr>
			<tr><td>Falken</td><td>9</td></tr>
		</table></body></html>`,
	}
}

func openGuardStore(t *testing.T) *state.Store {
	t.Helper()
	store := state.NewStore()
	require.NoError(t, store.Open(":memory:"))
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())
	return store
}

func TestSimulateIDsMonotonicFromOne(t *testing.T) {
	g := New(Options{Logger: testutil.NewTestLogger(t)})

	first, err := g.Simulate(guardRuleText, guardCorpus())
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)
	assert.True(t, first.Passed)
	assert.Equal(t, map[string]int{"ranking": 2}, first.RowCounts)
	assert.NotEmpty(t, first.RulesHash)

	second, err := g.Simulate(guardRuleText, guardCorpus())
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.ID)
}

func TestSimulateFailingGate(t *testing.T) {
	g := New(Options{})
	result, err := g.Simulate(guardRuleText, map[string]string{
		"empty.html": `<html><body></body></html>`,
	})
	require.NoError(t, err)
	assert.False(t, result.Passed)
	require.NotEmpty(t, result.Reasons)
	assert.Contains(t, result.Reasons[0], "produced 0 rows")
}

// A selector that fails to compile is a fatal extraction error and must
// fail the simulation even when no gate references the resource.
func TestSimulateFailsOnFatalExtractionError(t *testing.T) {
	g := New(Options{Logger: testutil.NewTestLogger(t)})
	brokenSelector := `{
		"resources": {
			"ranking": {
				"kind": "table",
				"selector": "table[[broken",
				"columns": ["team", "points"]
			}
		}
	}`
	result, err := g.Simulate(brokenSelector, guardCorpus())
	require.NoError(t, err)
	assert.False(t, result.Passed)
	require.NotEmpty(t, result.Reasons)
	assert.Contains(t, result.Reasons[0], "selector error")
}

// Recoverable per-field transform failures are warnings, not fatal errors,
// so they do not fail a simulation on their own.
func TestSimulatePassesOnRecoverableTransformFailure(t *testing.T) {
	g := New(Options{})
	nonNumeric := `{
		"resources": {
			"players": {
				"kind": "list",
				"selector": "table.ranking",
				"item_selector": "tr",
				"fields": {
					"team": {"selector": "td", "transforms": ["to_number"]}
				}
			}
		}
	}`
	result, err := g.Simulate(nonNumeric, guardCorpus())
	require.NoError(t, err)
	assert.True(t, result.Passed, "reasons: %v", result.Reasons)
}

func TestSimulateMalformedDocumentIsHardError(t *testing.T) {
	g := New(Options{})
	_, err := g.Simulate("{broken", guardCorpus())
	require.Error(t, err)
}

func TestSimulateDisallowCustomCode(t *testing.T) {
	g := New(Options{DisallowCustomCode: true})
	withExpr := `{
		"allow_expressions": true,
		"resources": {
			"players": {
				"kind": "list",
				"selector": "div",
				"item_selector": "li",
				"fields": {
					"x": {"selector": "span", "transforms": [{"kind": "expr", "code": "value"}]}
				}
			}
		}
	}`
	_, err := g.Simulate(withExpr, guardCorpus())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disallowed")

	// Plain documents are unaffected by the policy.
	_, err = g.Simulate(guardRuleText, guardCorpus())
	require.NoError(t, err)
}

func TestApplyWritesAuditInOneTransaction(t *testing.T) {
	g := New(Options{Logger: testutil.NewTestLogger(t)})
	store := openGuardStore(t)

	sim, err := g.Simulate(guardRuleText, guardCorpus())
	require.NoError(t, err)
	require.True(t, sim.Passed)

	applied, err := g.Apply(sim.ID, store.DB())
	require.NoError(t, err)
	assert.Equal(t, sim.ID, applied.SimID)
	assert.Equal(t, 1, applied.AuditRows)
	assert.Equal(t, sim.RulesHash, applied.RulesHash)

	rows, err := store.ListAudit(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ranking", rows[0].Resource)
	assert.Equal(t, 2, rows[0].RowCount)
	assert.Equal(t, sim.RulesHash, rows[0].RulesHash)
}

// The rule version handed to the guard ends up on every audit row.
func TestApplyAuditCarriesRuleVersion(t *testing.T) {
	g := New(Options{RuleVersion: 7})
	store := openGuardStore(t)

	sim, err := g.Simulate(guardRuleText, guardCorpus())
	require.NoError(t, err)
	assert.Equal(t, int64(7), sim.RuleVersion)

	_, err = g.Apply(sim.ID, store.DB())
	require.NoError(t, err)

	rows, err := store.ListAudit(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].RuleVersion.Valid)
	assert.EqualValues(t, 7, rows[0].RuleVersion.Int64)
}

func TestApplyUnknownSimulationID(t *testing.T) {
	g := New(Options{})
	store := openGuardStore(t)

	_, err := g.Apply(999, store.DB())
	require.Error(t, err)
	assert.Equal(t, "Unknown simulation id 999", err.Error())

	n, err := store.CountAudit()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestApplyRejectsFailedSimulation(t *testing.T) {
	g := New(Options{})
	store := openGuardStore(t)

	sim, err := g.Simulate(guardRuleText, map[string]string{
		"empty.html": `<html><body></body></html>`,
	})
	require.NoError(t, err)
	require.False(t, sim.Passed)

	_, err = g.Apply(sim.ID, store.DB())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not pass")

	n, err := store.CountAudit()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// A simulation is consumed by a successful apply; replaying the id fails.
func TestApplyConsumesSimulation(t *testing.T) {
	g := New(Options{})
	store := openGuardStore(t)

	sim, err := g.Simulate(guardRuleText, guardCorpus())
	require.NoError(t, err)
	_, err = g.Apply(sim.ID, store.DB())
	require.NoError(t, err)

	_, err = g.Apply(sim.ID, store.DB())
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("Unknown simulation id %d", sim.ID))

	n, err := store.CountAudit()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// An insert failure rolls the whole transaction back and keeps the
// simulation unconsumed.
func TestApplyRollsBackOnInsertFailure(t *testing.T) {
	g := New(Options{})

	sim, err := g.Simulate(guardRuleText, guardCorpus())
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO rule_apply_audit").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = g.Apply(sim.ID, db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())

	// The simulation survives the failed apply and can still be applied.
	store := openGuardStore(t)
	_, err = g.Apply(sim.ID, store.DB())
	require.NoError(t, err)
}
