// Package dag resolves derived-field dependencies as a directed acyclic
// graph. It supports cycle detection with path reporting and deterministic
// topological ordering.
package dag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/sandbox"
)

// CycleError names the dependency cycle that prevented an ordering.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// Graph is a directed graph of field names. Edge direction is upstream to
// downstream: an edge A -> B means B reads A.
type Graph struct {
	nodes   map[string]bool
	edges   map[string][]string // upstream -> downstream
	parents map[string][]string // downstream -> upstream
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]bool),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddNode adds a field node. Adding an existing node is a no-op.
func (g *Graph) AddNode(id string) {
	if !g.nodes[id] {
		g.nodes[id] = true
		g.edges[id] = []string{}
		g.parents[id] = []string{}
	}
}

// AddEdge records that downstream reads upstream. Both nodes must exist.
func (g *Graph) AddEdge(upstream, downstream string) error {
	if !g.nodes[upstream] {
		return fmt.Errorf("upstream node %q does not exist", upstream)
	}
	if !g.nodes[downstream] {
		return fmt.Errorf("downstream node %q does not exist", downstream)
	}
	if upstream == downstream {
		return &CycleError{Path: []string{upstream, downstream}}
	}
	if !contains(g.edges[upstream], downstream) {
		g.edges[upstream] = append(g.edges[upstream], downstream)
	}
	if !contains(g.parents[downstream], upstream) {
		g.parents[downstream] = append(g.parents[downstream], upstream)
	}
	return nil
}

// Nodes returns all node ids sorted.
func (g *Graph) Nodes() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dependencies returns the fields a node reads, sorted.
func (g *Graph) Dependencies(id string) []string {
	return sortedCopy(g.parents[id])
}

// Dependents returns the fields that read a node, sorted.
func (g *Graph) Dependents(id string) []string {
	return sortedCopy(g.edges[id])
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// checkCycle runs a DFS with an in-progress marker; revisiting an
// in-progress node closes a cycle and fails immediately with its path.
func (g *Graph) checkCycle() *CycleError {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	parent := map[string]string{}

	var cycle *CycleError
	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = gray
		for _, next := range sortedCopy(g.edges[id]) {
			switch color[next] {
			case white:
				parent[next] = id
				if dfs(next) {
					return true
				}
			case gray:
				path := []string{next}
				for curr := id; curr != next; curr = parent[curr] {
					path = append([]string{curr}, path...)
				}
				path = append([]string{next}, path...)
				cycle = &CycleError{Path: path}
				return true
			}
		}
		color[id] = black
		return false
	}

	for _, id := range g.Nodes() {
		if color[id] == white {
			if dfs(id) {
				return cycle
			}
		}
	}
	return nil
}

// TopologicalOrder returns a dependency-first ordering, or a CycleError the
// moment a back edge closes a cycle.
func (g *Graph) TopologicalOrder() ([]string, error) {
	if cycle := g.checkCycle(); cycle != nil {
		return nil, cycle
	}
	visited := map[string]bool{}
	var order []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, upstream := range sortedCopy(g.parents[id]) {
			visit(upstream)
		}
		order = append(order, id)
	}

	for _, id := range g.Nodes() {
		visit(id)
	}
	return order, nil
}

// BuildFieldGraph constructs the field-dependency graph from a raw rule
// document: base fields (table columns, list fields) as roots, one node per
// derived entry with edges from the identifiers it references, and edges
// from sibling fields referenced by expr transform chains. Only names
// matching known base or derived fields become edges.
func BuildFieldGraph(payload map[string]any) (*Graph, error) {
	g := NewGraph()

	baseFields := map[string]bool{}
	resources, _ := payload["resources"].(map[string]any)
	for _, raw := range resources {
		spec, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch spec["kind"] {
		case "table":
			if cols, ok := spec["columns"].([]any); ok {
				for _, c := range cols {
					if s, ok := c.(string); ok {
						baseFields[s] = true
					}
				}
			}
		case "list":
			if fields, ok := spec["fields"].(map[string]any); ok {
				for name := range fields {
					baseFields[name] = true
				}
			}
		}
	}
	for name := range baseFields {
		g.AddNode(name)
	}

	derived := map[string]string{}
	if m, ok := payload["derived"].(map[string]any); ok {
		for name, raw := range m {
			if code, ok := raw.(string); ok {
				derived[name] = code
				g.AddNode(name)
			}
		}
	}

	known := func(name string) bool {
		_, isDerived := derived[name]
		return baseFields[name] || isDerived
	}

	derivedNames := make([]string, 0, len(derived))
	for name := range derived {
		derivedNames = append(derivedNames, name)
	}
	sort.Strings(derivedNames)
	for _, name := range derivedNames {
		for _, ref := range sortedNames(sandbox.ExprNames(derived[name])) {
			if !known(ref) {
				continue
			}
			if err := g.AddEdge(ref, name); err != nil {
				return nil, err
			}
		}
	}

	// Expression transforms on list fields may read sibling fields.
	for _, raw := range resources {
		spec, ok := raw.(map[string]any)
		if !ok || spec["kind"] != "list" {
			continue
		}
		fields, ok := spec["fields"].(map[string]any)
		if !ok {
			continue
		}
		for fname, fraw := range fields {
			fmap, ok := fraw.(map[string]any)
			if !ok {
				continue
			}
			transforms, ok := fmap["transforms"].([]any)
			if !ok {
				continue
			}
			for _, t := range transforms {
				tspec, ok := t.(map[string]any)
				if !ok || tspec["kind"] != "expr" {
					continue
				}
				code, ok := tspec["code"].(string)
				if !ok {
					continue
				}
				for _, ref := range sortedNames(sandbox.ExprNames(code)) {
					if ref == "value" || ref == fname || !baseFields[ref] {
						continue
					}
					if err := g.AddEdge(ref, fname); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	if cycle := g.checkCycle(); cycle != nil {
		return nil, cycle
	}
	return g, nil
}

func contains(slice []string, s string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}

func sortedCopy(slice []string) []string {
	out := append([]string(nil), slice...)
	sort.Strings(out)
	return out
}

func sortedNames(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
