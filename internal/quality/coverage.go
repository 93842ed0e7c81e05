// Package quality measures field coverage over an extracted corpus and
// evaluates configured quality gates against it. Coverage counts raw rows
// before cross-file deduplication; transforms are not applied, so the ratio
// reflects what the selectors found, not what the chains kept.
package quality

import (
	"fmt"
	"sort"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/extract"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/rules"
)

// FieldCoverage counts non-empty occurrences of one field across all rows of
// a resource.
type FieldCoverage struct {
	Field    string
	NonEmpty int
	Total    int
	Distinct int
}

// Ratio returns non-empty/total. A resource with zero rows has ratio 0.0, so
// a selector that silently stops matching fails its gates instead of
// vacuously passing them.
func (c FieldCoverage) Ratio() float64 {
	if c.Total == 0 {
		return 0.0
	}
	return float64(c.NonEmpty) / float64(c.Total)
}

// ResourceCoverage aggregates field coverage for one resource.
type ResourceCoverage struct {
	Resource string
	Kind     string
	Rows     int
	Fields   []FieldCoverage
}

// AverageCoverage returns the mean field ratio, 0.0 when there are no fields.
func (r ResourceCoverage) AverageCoverage() float64 {
	if len(r.Fields) == 0 {
		return 0.0
	}
	var sum float64
	for _, f := range r.Fields {
		sum += f.Ratio()
	}
	return sum / float64(len(r.Fields))
}

// MissingColumns returns the fields that never carried a value, sorted.
func (r ResourceCoverage) MissingColumns() []string {
	var missing []string
	for _, f := range r.Fields {
		if f.NonEmpty == 0 {
			missing = append(missing, f.Field)
		}
	}
	sort.Strings(missing)
	return missing
}

// CoverageReport is the corpus-wide coverage result.
type CoverageReport struct {
	Resources []ResourceCoverage
	Files     int
}

// Resource returns the coverage for one resource, or nil.
func (r *CoverageReport) Resource(name string) *ResourceCoverage {
	for i := range r.Resources {
		if r.Resources[i].Resource == name {
			return &r.Resources[i]
		}
	}
	return nil
}

// FieldRatio returns the ratio for resource.field, with 0.0 and false when
// either is unknown.
func (r *CoverageReport) FieldRatio(resource, field string) (float64, bool) {
	rc := r.Resource(resource)
	if rc == nil {
		return 0.0, false
	}
	for _, f := range rc.Fields {
		if f.Field == field {
			return f.Ratio(), true
		}
	}
	return 0.0, false
}

// OverallRatio returns the mean of all per-resource averages.
func (r *CoverageReport) OverallRatio() float64 {
	if len(r.Resources) == 0 {
		return 0.0
	}
	var sum float64
	for _, rc := range r.Resources {
		sum += rc.AverageCoverage()
	}
	return sum / float64(len(r.Resources))
}

// ComputeFieldCoverage extracts every file with transforms disabled and
// counts non-empty and distinct values per field over the raw (undeduped)
// row stream.
func ComputeFieldCoverage(rs *rules.RuleSet, htmlByFile map[string]string) (*CoverageReport, error) {
	fileIDs := make([]string, 0, len(htmlByFile))
	for id := range htmlByFile {
		fileIDs = append(fileIDs, id)
	}
	sort.Strings(fileIDs)

	type counter struct {
		nonEmpty int
		total    int
		distinct map[string]bool
	}
	counts := map[string]map[string]*counter{}
	rowsPer := map[string]int{}
	for _, name := range rs.ResourceNames() {
		counts[name] = map[string]*counter{}
		for _, f := range rs.Resources[name].FieldNames() {
			counts[name][f] = &counter{distinct: map[string]bool{}}
		}
	}

	for _, id := range fileIDs {
		preview, err := extract.GeneratePreview(rs, htmlByFile[id], false)
		if err != nil {
			return nil, fmt.Errorf("file %s: %w", id, err)
		}
		for _, name := range rs.ResourceNames() {
			for _, row := range preview.Records[name] {
				rowsPer[name]++
				for field, c := range counts[name] {
					c.total++
					text, _ := row[field].(string)
					if text != "" {
						c.nonEmpty++
						c.distinct[text] = true
					}
				}
			}
		}
	}

	report := &CoverageReport{Files: len(fileIDs)}
	for _, name := range rs.ResourceNames() {
		rc := ResourceCoverage{
			Resource: name,
			Kind:     rs.Resources[name].Kind(),
			Rows:     rowsPer[name],
		}
		for _, field := range rs.Resources[name].FieldNames() {
			c := counts[name][field]
			rc.Fields = append(rc.Fields, FieldCoverage{
				Field:    field,
				NonEmpty: c.nonEmpty,
				Total:    c.total,
				Distinct: len(c.distinct),
			})
		}
		report.Resources = append(report.Resources, rc)
	}
	return report, nil
}
