// Package extract applies a validated RuleSet to scraped HTML documents.
// Selector matching is delegated to goquery/cascadia; extraction is
// best-effort per file: selector failures are recorded as non-fatal errors
// attributed to {resource, file} and never abort the rest of the corpus.
package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/rules"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/transform"
)

// ResourceSummary is per-resource preview metadata.
type ResourceSummary struct {
	Resource    string
	Kind        string
	RecordCount int
	Warnings    []string
}

// Error is a non-fatal extraction problem attributed to a resource and,
// once aggregated over a corpus, a file.
type Error struct {
	Resource string
	File     string
	Message  string
	Severity string // "warning" or "error"
}

// MatchSpan records how many nodes a selector matched, for rule debugging.
type MatchSpan struct {
	Selector string
	Count    int
}

// Preview is the result of applying a RuleSet to a single HTML document.
type Preview struct {
	Summaries  []ResourceSummary
	Records    map[string][]map[string]any
	MatchSpans map[string][]MatchSpan
	Errors     []Error
	ParseTime  time.Duration
}

// problem is a classified extraction finding. Severity is assigned at the
// point of origin: selector compile failures are "error", zero matches and
// recoverable transform failures are "warning".
type problem struct {
	message  string
	severity string
}

func warningf(format string, args ...any) problem {
	return problem{message: fmt.Sprintf(format, args...), severity: "warning"}
}

func errorf(format string, args ...any) problem {
	return problem{message: fmt.Sprintf(format, args...), severity: "error"}
}

// GeneratePreview extracts every resource of the rule set from one HTML
// document. When applyTransforms is true, list field transform chains run;
// a failing chain yields a null value plus a warning, never an aborted row.
func GeneratePreview(rs *rules.RuleSet, html string, applyTransforms bool) (*Preview, error) {
	start := time.Now()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	preview := &Preview{
		Records:    map[string][]map[string]any{},
		MatchSpans: map[string][]MatchSpan{},
	}
	for _, name := range rs.ResourceNames() {
		res := rs.Resources[name]
		var (
			rows     []map[string]any
			problems []problem
			spans    []MatchSpan
		)
		switch rule := res.(type) {
		case *rules.TableRule:
			rows, problems, spans = extractTable(name, rule, doc)
		case *rules.ListRule:
			rows, problems, spans = extractList(name, rule, doc, rs.AllowExpressions, applyTransforms)
		}
		preview.Records[name] = rows
		preview.MatchSpans[name] = spans
		warnings := make([]string, 0, len(problems))
		for _, p := range problems {
			warnings = append(warnings, p.message)
			preview.Errors = append(preview.Errors, Error{
				Resource: name,
				Message:  p.message,
				Severity: p.severity,
			})
		}
		preview.Summaries = append(preview.Summaries, ResourceSummary{
			Resource:    name,
			Kind:        res.Kind(),
			RecordCount: len(rows),
			Warnings:    warnings,
		})
	}
	preview.ParseTime = time.Since(start)
	return preview, nil
}

func compileSelector(sel string) (cascadia.Selector, error) {
	return cascadia.Compile(sel)
}

func extractTable(name string, rule *rules.TableRule, doc *goquery.Document) ([]map[string]any, []problem, []MatchSpan) {
	sel, err := compileSelector(rule.Selector)
	if err != nil {
		return nil, []problem{errorf("selector error for table %q: %v", name, err)}, nil
	}
	root := doc.FindMatcher(sel).First()
	if root.Length() == 0 {
		return nil, []problem{warningf("table selector matched 0 nodes (%s)", rule.Selector)}, nil
	}

	var rows []map[string]any
	root.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td, th")
		if cells.Length() == 0 {
			return
		}
		// Skip pure header rows.
		if tr.Find("th").Length() == cells.Length() {
			return
		}
		values := map[string]any{}
		nonEmpty := false
		for idx, col := range rule.Columns {
			text := ""
			if idx < cells.Length() {
				text = strings.TrimSpace(cells.Eq(idx).Text())
			}
			values[col] = text
			if text != "" {
				nonEmpty = true
			}
		}
		if nonEmpty {
			rows = append(rows, values)
		}
	})
	spans := []MatchSpan{{Selector: rule.Selector, Count: len(rows)}}
	return rows, nil, spans
}

func extractList(name string, rule *rules.ListRule, doc *goquery.Document, allowExpr, applyTransforms bool) ([]map[string]any, []problem, []MatchSpan) {
	sel, err := compileSelector(rule.Selector)
	if err != nil {
		return nil, []problem{errorf("selector error for list %q: %v", name, err)}, nil
	}
	root := doc.FindMatcher(sel).First()
	if root.Length() == 0 {
		return nil, []problem{warningf("list selector matched 0 nodes (%s)", rule.Selector)}, nil
	}
	itemSel, err := compileSelector(rule.ItemSelector)
	if err != nil {
		return nil, []problem{errorf("item selector error for list %q: %v", name, err)}, nil
	}

	fieldSelectors := map[string]cascadia.Selector{}
	var problems []problem
	for _, fname := range rule.FieldNames() {
		fsel, err := compileSelector(rule.Fields[fname].Selector)
		if err != nil {
			problems = append(problems, errorf("field %q selector error: %v", fname, err))
			continue
		}
		fieldSelectors[fname] = fsel
	}

	var rows []map[string]any
	items := root.FindMatcher(itemSel)
	items.Each(func(_ int, item *goquery.Selection) {
		record := map[string]any{}
		nonEmpty := false
		for _, fname := range rule.FieldNames() {
			fm := rule.Fields[fname]
			raw := ""
			if fsel, ok := fieldSelectors[fname]; ok {
				el := item.FindMatcher(fsel).First()
				if el.Length() > 0 {
					raw = strings.TrimSpace(el.Text())
				}
			}
			var value any = raw
			if applyTransforms && len(fm.Transforms) > 0 {
				coerced, err := transform.ApplyChain(raw, fm.Transforms, allowExpr)
				if err != nil {
					problems = append(problems, warningf("field %q transform failed: %v", fname, err))
					coerced = nil
				}
				value = coerced
			}
			record[fname] = value
			if !isEmptyValue(value) {
				nonEmpty = true
			}
		}
		if nonEmpty {
			rows = append(rows, record)
		}
	})
	spans := []MatchSpan{
		{Selector: rule.Selector, Count: items.Length()},
		{Selector: rule.Selector + " -> " + rule.ItemSelector, Count: items.Length()},
	}
	return rows, problems, spans
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
