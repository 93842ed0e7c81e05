// Package derive computes derived fields over extracted rows. Evaluation
// order comes from the dependency graph, so a derived field may reference
// other derived fields as long as the graph stays acyclic.
package derive

import (
	"fmt"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/dag"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/extract"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/rules"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/sandbox"
)

// Augment evaluates every derived field of the rule set against each row of
// the bundle, writing results into the row values. A row that lacks a
// referenced field, or an evaluation failure, yields a null for that derived
// field plus one warning per resource; extraction output is never discarded.
// Returns the evaluation order used, or the dependency cycle error.
func Augment(bundle *extract.Bundle, rs *rules.RuleSet, payload map[string]any) ([]string, error) {
	if len(rs.Derived) == 0 {
		return nil, nil
	}
	graph, err := dag.BuildFieldGraph(payload)
	if err != nil {
		return nil, err
	}
	order, err := graph.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	var derivedOrder []string
	for _, name := range order {
		if _, ok := rs.Derived[name]; ok {
			derivedOrder = append(derivedOrder, name)
		}
	}

	for _, resName := range rs.ResourceNames() {
		res := bundle.Resources[resName]
		if res == nil {
			continue
		}
		warned := map[string]bool{}
		for i := range res.Rows {
			row := res.Rows[i].Values
			for _, name := range derivedOrder {
				value, err := evalDerived(rs.Derived[name], row)
				if err != nil && !warned[name] {
					res.Warnings = append(res.Warnings,
						fmt.Sprintf("derived field %q: %v", name, err))
					warned[name] = true
				}
				row[name] = value
			}
		}
	}
	return derivedOrder, nil
}

func evalDerived(code string, row map[string]any) (any, error) {
	env := make(map[string]any, len(row))
	for k, v := range row {
		env[k] = v
	}
	value, err := sandbox.EvalExpr(code, env)
	if err != nil {
		return nil, err
	}
	return value, nil
}
