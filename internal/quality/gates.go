package quality

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/rules"
)

// GateResult is the outcome of one coverage gate.
type GateResult struct {
	Gate      string // dotted "resource.field" form
	Resource  string
	Field     string
	Threshold float64
	Actual    float64
	Passed    bool
	Reason    string
}

// GateReport aggregates all gate outcomes for one evaluation.
type GateReport struct {
	Results []GateResult
}

// Passed reports whether every gate held.
func (r *GateReport) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

// FailedCount returns the number of failing gates.
func (r *GateReport) FailedCount() int {
	n := 0
	for _, res := range r.Results {
		if !res.Passed {
			n++
		}
	}
	return n
}

// FailureReasons returns the reasons of failing gates in gate order.
func (r *GateReport) FailureReasons() []string {
	var out []string
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res.Reason)
		}
	}
	return out
}

// EvaluateQualityGates checks every configured gate against a coverage
// report. A gate naming an unknown resource or field fails with a reason
// rather than erroring, so one typo does not hide the other gates. Gates
// evaluate in sorted key order.
func EvaluateQualityGates(rs *rules.RuleSet, coverage *CoverageReport) *GateReport {
	keys := make([]string, 0, len(rs.QualityGates))
	for k := range rs.QualityGates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	report := &GateReport{}
	for _, key := range keys {
		threshold := rs.QualityGates[key]
		resource, field, ok := splitGateKey(key)
		result := GateResult{Gate: key, Resource: resource, Field: field, Threshold: threshold}
		switch {
		case !ok:
			result.Reason = fmt.Sprintf("gate %q is not of the form resource.field", key)
		case rs.Resources[resource] == nil:
			result.Reason = fmt.Sprintf("gate %q references unknown resource %q", key, resource)
		default:
			rc := coverage.Resource(resource)
			actual, known := coverage.FieldRatio(resource, field)
			switch {
			case !known:
				result.Reason = fmt.Sprintf("gate %q references unknown field %q", key, field)
			case rc != nil && rc.Rows == 0:
				result.Reason = fmt.Sprintf("referenced resource %q produced 0 rows", resource)
			case actual < threshold:
				result.Actual = actual
				result.Reason = fmt.Sprintf("coverage %s=%.2f below threshold %.2f", key, actual, threshold)
			default:
				result.Actual = actual
				result.Passed = true
			}
		}
		report.Results = append(report.Results, result)
	}
	return report
}

func splitGateKey(key string) (resource, field string, ok bool) {
	idx := strings.LastIndex(key, ".")
	if idx <= 0 || idx == len(key)-1 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}
