package extract

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/rules"
)

// ExtractedRow is a deduplicated row tagged with every source file that
// produced a value-equal row.
type ExtractedRow struct {
	Values      map[string]any
	SourceFiles []string
}

// BundleResource aggregates distinct rows for one resource across a corpus.
type BundleResource struct {
	Name        string
	Kind        string
	Rows        []ExtractedRow
	SourceFiles []string
	Warnings    []string
}

// Bundle is the corpus-level extraction result.
type Bundle struct {
	Resources map[string]*BundleResource
	Errors    []Error
}

// RowCounts returns per-resource distinct row counts.
func (b *Bundle) RowCounts() map[string]int {
	out := make(map[string]int, len(b.Resources))
	for name, res := range b.Resources {
		out[name] = len(res.Rows)
	}
	return out
}

// HasFatalErrors reports whether any aggregated error carries severity
// "error" (selector compile failures, as opposed to zero-match warnings).
func (b *Bundle) HasFatalErrors() bool {
	for _, e := range b.Errors {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// AdaptRuleSetOverFiles applies the rule set to every document and
// aggregates rows per resource, deduplicating by full-row value equality.
// Files extract in parallel; the aggregation order is re-derived from the
// sorted file ids, so results are deterministic regardless of scheduling.
func AdaptRuleSetOverFiles(rs *rules.RuleSet, htmlByFile map[string]string) (*Bundle, error) {
	fileIDs := make([]string, 0, len(htmlByFile))
	for id := range htmlByFile {
		fileIDs = append(fileIDs, id)
	}
	sort.Strings(fileIDs)

	previews := make([]*Preview, len(fileIDs))
	var g errgroup.Group
	var mu sync.Mutex
	for i, id := range fileIDs {
		g.Go(func() error {
			preview, err := GeneratePreview(rs, htmlByFile[id], true)
			if err != nil {
				return fmt.Errorf("file %s: %w", id, err)
			}
			mu.Lock()
			previews[i] = preview
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bundle := &Bundle{Resources: map[string]*BundleResource{}}
	seen := map[string]map[string]int{} // resource -> row key -> row index
	for _, name := range rs.ResourceNames() {
		seen[name] = map[string]int{}
	}

	for i, fileID := range fileIDs {
		preview := previews[i]
		for _, e := range preview.Errors {
			e.File = fileID
			bundle.Errors = append(bundle.Errors, e)
		}
		for _, name := range rs.ResourceNames() {
			res := bundle.Resources[name]
			if res == nil {
				res = &BundleResource{Name: name, Kind: rs.Resources[name].Kind()}
				bundle.Resources[name] = res
			}
			if !contains(res.SourceFiles, fileID) {
				res.SourceFiles = append(res.SourceFiles, fileID)
			}
			for _, summary := range preview.Summaries {
				if summary.Resource == name {
					res.Warnings = append(res.Warnings, summary.Warnings...)
				}
			}
			for _, row := range preview.Records[name] {
				key := rowKey(row)
				if idx, ok := seen[name][key]; ok {
					existing := &res.Rows[idx]
					if !contains(existing.SourceFiles, fileID) {
						existing.SourceFiles = append(existing.SourceFiles, fileID)
					}
					continue
				}
				seen[name][key] = len(res.Rows)
				res.Rows = append(res.Rows, ExtractedRow{
					Values:      copyRow(row),
					SourceFiles: []string{fileID},
				})
			}
		}
	}
	return bundle, nil
}

// rowKey builds a deterministic identity for full-row value equality.
// Values are tagged with their dynamic type and length-prefixed, so
// int64(5) and float64(5) stay distinct and separator characters inside
// values cannot forge a collision.
func rowKey(row map[string]any) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		v := fmt.Sprintf("%T:%v", row[k], row[k])
		fmt.Fprintf(&b, "%d:%s=%d:%s;", len(k), k, len(v), v)
	}
	return b.String()
}

func copyRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func contains(slice []string, s string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}
