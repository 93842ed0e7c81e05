// Package snapshot captures extraction output for regression checking. A
// snapshot stores sorted row fingerprints per resource rather than full
// rows, so comparisons are order-insensitive and files stay small.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/extract"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/rules"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/state"
)

// Snapshot is one captured extraction result.
type Snapshot struct {
	ID        string              `json:"id"`
	CreatedAt time.Time           `json:"created_at"`
	RulesHash string              `json:"rules_hash"`
	Files     int                 `json:"files"`
	Resources map[string][]string `json:"resources"` // resource -> sorted row fingerprints
}

// Difference categories reported by Compare.
const (
	DiffMissingResource = "missing_resource"
	DiffExtraResource   = "extra_resource"
	DiffRowMismatch     = "row_mismatch"
)

// Difference is one divergence between a baseline and a current snapshot.
type Difference struct {
	Category string
	Resource string
	Detail   string
}

// Generate extracts the corpus and captures the deduplicated rows of every
// resource. ruleText is hashed for provenance only.
func Generate(rs *rules.RuleSet, htmlByFile map[string]string, ruleText string) (*Snapshot, error) {
	bundle, err := extract.AdaptRuleSetOverFiles(rs, htmlByFile)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		RulesHash: state.HashDocument(ruleText),
		Files:     len(htmlByFile),
		Resources: map[string][]string{},
	}
	for _, name := range rs.ResourceNames() {
		res := bundle.Resources[name]
		fingerprints := []string{}
		if res != nil {
			for _, row := range res.Rows {
				fingerprints = append(fingerprints, rowFingerprint(row.Values))
			}
		}
		sort.Strings(fingerprints)
		snap.Resources[name] = fingerprints
	}
	return snap, nil
}

// Save writes the snapshot as JSON under dir, named by capture id.
func Save(snap *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	encoded, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	path := filepath.Join(dir, snap.ID+".json")
	if err := os.WriteFile(path, append(encoded, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return path, nil
}

// Load reads a snapshot file.
func Load(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}
	return &snap, nil
}

// Compare diffs a current snapshot against a baseline. Resources gone from
// the current capture are missing, new ones are extra, and shared resources
// with different fingerprint multisets are row mismatches.
func Compare(baseline, current *Snapshot) []Difference {
	var diffs []Difference

	names := map[string]bool{}
	for name := range baseline.Resources {
		names[name] = true
	}
	for name := range current.Resources {
		names[name] = true
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		base, inBase := baseline.Resources[name]
		curr, inCurr := current.Resources[name]
		switch {
		case inBase && !inCurr:
			diffs = append(diffs, Difference{
				Category: DiffMissingResource,
				Resource: name,
				Detail:   fmt.Sprintf("resource %q present in baseline, absent now", name),
			})
		case !inBase && inCurr:
			diffs = append(diffs, Difference{
				Category: DiffExtraResource,
				Resource: name,
				Detail:   fmt.Sprintf("resource %q absent in baseline, present now", name),
			})
		case !equalSorted(base, curr):
			diffs = append(diffs, Difference{
				Category: DiffRowMismatch,
				Resource: name,
				Detail: fmt.Sprintf("resource %q rows changed: baseline %d, current %d",
					name, len(base), len(curr)),
			})
		}
	}
	return diffs
}

func equalSorted(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func rowFingerprint(row map[string]any) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, row[k])
	}
	return b.String()
}
