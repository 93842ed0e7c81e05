// Package guard gates destructive rule application behind an explicit
// simulate step. Every apply must reference a prior passing simulation;
// audit rows for one apply are written in a single transaction, so a crash
// can never leave a partial audit trail.
package guard

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/derive"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/extract"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/quality"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/rules"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/sandbox"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/state"
)

// SimulationResult is the outcome of one dry run.
type SimulationResult struct {
	ID          int64
	Passed      bool
	Reasons     []string
	RowCounts   map[string]int
	RulesHash   string
	RuleVersion int64
	Gates       *quality.GateReport
	Coverage    *quality.CoverageReport
	CreatedAt   time.Time
}

// ApplyResult reports a committed apply.
type ApplyResult struct {
	SimID     int64
	RowCounts map[string]int
	RulesHash string
	AppliedAt time.Time
	AuditRows int
}

type simulation struct {
	result  *SimulationResult
	ruleSet *rules.RuleSet
	files   map[string]string
	payload map[string]any
}

// Options configure a Guard.
type Options struct {
	// DisallowCustomCode rejects rule documents containing expression code
	// before any parsing or simulation work happens.
	DisallowCustomCode bool
	// RuleVersion, when positive, is threaded into results and audit rows.
	RuleVersion int64
	Logger      *slog.Logger
}

// Guard owns simulation state. Simulation ids are monotonic per instance,
// starting at 1; a simulation can be applied at most once.
type Guard struct {
	mu                 sync.Mutex
	nextID             int64
	sims               map[int64]*simulation
	disallowCustomCode bool
	ruleVersion        int64
	logger             *slog.Logger
}

// New creates a Guard.
func New(opts Options) *Guard {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Guard{
		nextID:             1,
		sims:               map[int64]*simulation{},
		disallowCustomCode: opts.DisallowCustomCode,
		ruleVersion:        opts.RuleVersion,
		logger:             logger,
	}
}

// Simulate validates and extracts without touching any database. Scan
// issues, fatal extraction errors, failing quality gates and zero-row
// resources referenced by gates all become reasons; Passed is true only
// with zero reasons. Malformed
// documents and the custom-code policy are hard errors, not failed
// simulations.
func (g *Guard) Simulate(ruleText string, htmlByFile map[string]string) (*SimulationResult, error) {
	payload, err := rules.ParseDocument(ruleText)
	if err != nil {
		return nil, err
	}
	if g.disallowCustomCode && sandbox.ContainsCustomCode(payload) {
		return nil, fmt.Errorf("custom expression code is disallowed by configuration")
	}

	var reasons []string
	scan := sandbox.ScanRulesText(ruleText)
	for _, issue := range scan.Issues {
		reasons = append(reasons, fmt.Sprintf("sandbox: %s", issue.Message))
	}

	rs, err := rules.FromMapping(payload)
	if err != nil {
		return nil, err
	}

	bundle, err := extract.AdaptRuleSetOverFiles(rs, htmlByFile)
	if err != nil {
		return nil, err
	}
	for _, e := range bundle.Errors {
		if e.Severity == "error" {
			reasons = append(reasons, fmt.Sprintf("extraction: %s (resource %s, file %s)", e.Message, e.Resource, e.File))
		}
	}
	if _, err := derive.Augment(bundle, rs, payload); err != nil {
		reasons = append(reasons, fmt.Sprintf("derived fields: %v", err))
	}

	coverage, err := quality.ComputeFieldCoverage(rs, htmlByFile)
	if err != nil {
		return nil, err
	}
	gates := quality.EvaluateQualityGates(rs, coverage)
	reasons = append(reasons, gates.FailureReasons()...)

	g.mu.Lock()
	defer g.mu.Unlock()
	result := &SimulationResult{
		ID:          g.nextID,
		Passed:      len(reasons) == 0,
		Reasons:     reasons,
		RowCounts:   bundle.RowCounts(),
		RulesHash:   state.HashDocument(ruleText),
		RuleVersion: g.ruleVersion,
		Gates:       gates,
		Coverage:    coverage,
		CreatedAt:   time.Now().UTC(),
	}
	g.nextID++
	g.sims[result.ID] = &simulation{
		result:  result,
		ruleSet: rs,
		files:   htmlByFile,
		payload: payload,
	}
	g.logger.Info("simulation completed",
		"sim_id", result.ID,
		"passed", result.Passed,
		"reasons", len(reasons))
	return result, nil
}

// Apply re-extracts under the simulated rule set and writes one audit row
// per resource inside a single transaction. Unknown ids and failed
// simulations are rejected; a successful apply consumes the simulation, so
// replaying the same id fails.
func (g *Guard) Apply(simID int64, db *sql.DB) (*ApplyResult, error) {
	g.mu.Lock()
	sim, ok := g.sims[simID]
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("Unknown simulation id %d", simID)
	}
	if !sim.result.Passed {
		return nil, fmt.Errorf("simulation %d did not pass; refusing to apply", simID)
	}

	bundle, err := extract.AdaptRuleSetOverFiles(sim.ruleSet, sim.files)
	if err != nil {
		return nil, fmt.Errorf("re-extraction for apply failed: %w", err)
	}
	if _, err := derive.Augment(bundle, sim.ruleSet, sim.payload); err != nil {
		return nil, fmt.Errorf("derived fields for apply failed: %w", err)
	}

	appliedAt := time.Now().UTC()
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin apply transaction: %w", err)
	}

	auditRows := 0
	for _, name := range sim.ruleSet.ResourceNames() {
		res := bundle.Resources[name]
		rowCount := 0
		if res != nil {
			rowCount = len(res.Rows)
		}
		ruleVersion := sql.NullInt64{Int64: sim.result.RuleVersion, Valid: sim.result.RuleVersion > 0}
		if _, err := tx.Exec(
			`INSERT INTO rule_apply_audit (sim_id, resource, row_count, rules_hash, rule_version, applied_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			simID, name, rowCount, sim.result.RulesHash, ruleVersion, appliedAt,
		); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to write audit row for %s: %w", name, err)
		}
		auditRows++
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit apply transaction: %w", err)
	}

	g.mu.Lock()
	delete(g.sims, simID)
	g.mu.Unlock()

	g.logger.Info("apply committed",
		"sim_id", simID,
		"resources", auditRows,
		"rules_hash", sim.result.RulesHash)
	return &ApplyResult{
		SimID:     simID,
		RowCounts: bundle.RowCounts(),
		RulesHash: sim.result.RulesHash,
		AppliedAt: appliedAt,
		AuditRows: auditRows,
	}, nil
}
