// Package diff compares the extraction output of two rule sets over the
// same corpus. Rows are compared as multisets of value-equal records, so
// reordering between rule sets never shows up as a difference.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/extract"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/rules"
)

// ResourceDiff is the multiset comparison for one resource name.
type ResourceDiff struct {
	Resource string
	CountA   int
	CountB   int
	OnlyA    int
	OnlyB    int
	Overlap  int
}

// Report is the corpus-level diff, resources sorted by name.
type Report struct {
	Resources []ResourceDiff
}

// Identical reports whether both rule sets produced the same multiset for
// every resource.
func (r *Report) Identical() bool {
	for _, rd := range r.Resources {
		if rd.OnlyA != 0 || rd.OnlyB != 0 {
			return false
		}
	}
	return true
}

// Totals sums the per-resource counters.
func (r *Report) Totals() ResourceDiff {
	total := ResourceDiff{Resource: "total"}
	for _, rd := range r.Resources {
		total.CountA += rd.CountA
		total.CountB += rd.CountB
		total.OnlyA += rd.OnlyA
		total.OnlyB += rd.OnlyB
		total.Overlap += rd.Overlap
	}
	return total
}

// DiffRuleSets extracts the corpus under both rule sets and compares row
// multisets per resource. Resources present in only one set still appear,
// with the other side counted as zero.
func DiffRuleSets(a, b *rules.RuleSet, htmlByFile map[string]string) (*Report, error) {
	rowsA, err := collectRows(a, htmlByFile)
	if err != nil {
		return nil, fmt.Errorf("extracting with first rule set: %w", err)
	}
	rowsB, err := collectRows(b, htmlByFile)
	if err != nil {
		return nil, fmt.Errorf("extracting with second rule set: %w", err)
	}

	names := map[string]bool{}
	for name := range rowsA {
		names[name] = true
	}
	for name := range rowsB {
		names[name] = true
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	report := &Report{}
	for _, name := range sorted {
		ma, mb := rowsA[name], rowsB[name]
		rd := ResourceDiff{Resource: name}
		for _, n := range ma {
			rd.CountA += n
		}
		for _, n := range mb {
			rd.CountB += n
		}
		for key, na := range ma {
			nb := mb[key]
			if na < nb {
				rd.Overlap += na
			} else {
				rd.Overlap += nb
			}
		}
		rd.OnlyA = rd.CountA - rd.Overlap
		rd.OnlyB = rd.CountB - rd.Overlap
		report.Resources = append(report.Resources, rd)
	}
	return report, nil
}

// collectRows builds per-resource row multisets from the raw per-file
// stream, before cross-file dedup.
func collectRows(rs *rules.RuleSet, htmlByFile map[string]string) (map[string]map[string]int, error) {
	fileIDs := make([]string, 0, len(htmlByFile))
	for id := range htmlByFile {
		fileIDs = append(fileIDs, id)
	}
	sort.Strings(fileIDs)

	out := map[string]map[string]int{}
	for _, name := range rs.ResourceNames() {
		out[name] = map[string]int{}
	}
	for _, id := range fileIDs {
		preview, err := extract.GeneratePreview(rs, htmlByFile[id], true)
		if err != nil {
			return nil, fmt.Errorf("file %s: %w", id, err)
		}
		for _, name := range rs.ResourceNames() {
			for _, row := range preview.Records[name] {
				out[name][rowFingerprint(row)]++
			}
		}
	}
	return out, nil
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
