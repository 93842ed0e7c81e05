// Package sandbox is the security boundary for operator-authored
// expressions. Expressions are parsed into a Starlark syntax tree and
// statically checked against an allow list before any evaluation happens;
// evaluation itself runs in a Starlark environment with no builtins and
// only explicitly bound names. The host language's eval is never involved.
package sandbox

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/syntax"
)

// Issue categories reported by the static scan.
const (
	CategoryEmpty           = "empty"
	CategorySyntaxError     = "syntax_error"
	CategoryFunctionCall    = "function_call"
	CategoryAttributeAccess = "attribute_access"
	CategorySubscript       = "subscript"
	CategoryLambda          = "lambda"
	CategoryComprehension   = "comprehension"
	CategoryUnknownName     = "unknown_name"
	CategoryDisallowedNode  = "disallowed_node"
)

// Issue is a single static finding in an expression.
type Issue struct {
	Expr     string
	Message  string
	Category string
	Line     int32
	Col      int32
	Source   string // "transform" or "derived"
	Field    string
}

// Report aggregates the findings over every expression in a rule document.
type Report struct {
	OK                 bool
	Issues             []Issue
	ExpressionsScanned int
}

// Summary renders a one-line report suitable for logs and CLI output.
func (r Report) Summary() string {
	if r.OK {
		return fmt.Sprintf("security sandbox: OK (%d expressions)", r.ExpressionsScanned)
	}
	counts := map[string]int{}
	for _, issue := range r.Issues {
		counts[issue.Category]++
	}
	cats := make([]string, 0, len(counts))
	for cat := range counts {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	parts := make([]string, 0, len(cats))
	for _, cat := range cats {
		parts = append(parts, fmt.Sprintf("%s:%d", cat, counts[cat]))
	}
	return fmt.Sprintf("security sandbox: %d issue(s) across %d expressions [%s]",
		len(r.Issues), r.ExpressionsScanned, strings.Join(parts, ", "))
}

var parseOpts = &syntax.FileOptions{}

// allowedBinaryOps is the operator allow list: arithmetic, boolean and
// comparison operators only.
var allowedBinaryOps = map[syntax.Token]bool{
	syntax.PLUS:       true,
	syntax.MINUS:      true,
	syntax.STAR:       true,
	syntax.SLASH:      true,
	syntax.SLASHSLASH: true,
	syntax.PERCENT:    true,
	syntax.STARSTAR:   true,
	syntax.AND:        true,
	syntax.OR:         true,
	syntax.EQL:        true,
	syntax.NEQ:        true,
	syntax.LT:         true,
	syntax.LE:         true,
	syntax.GT:         true,
	syntax.GE:         true,
}

// universeNames are constants every expression may reference. They parse as
// identifiers but resolve in the Starlark universe, not the bound names.
var universeNames = map[string]bool{
	"None":  true,
	"True":  true,
	"False": true,
}

var allowedUnaryOps = map[syntax.Token]bool{
	syntax.PLUS:  true,
	syntax.MINUS: true,
	syntax.NOT:   true,
}

// ScanExpression statically analyzes one expression. It never executes
// anything. When allowedNames is non-nil, any identifier outside the set is
// flagged as unknown_name. All problems are reported, not just the first.
func ScanExpression(expr string, allowedNames map[string]bool) []Issue {
	var issues []Issue
	cleaned := strings.TrimSpace(expr)
	if cleaned == "" {
		return []Issue{{Expr: expr, Message: "expression is empty", Category: CategoryEmpty}}
	}
	tree, err := parseOpts.ParseExpr("<expr>", cleaned, 0)
	if err != nil {
		return []Issue{{
			Expr:     expr,
			Message:  fmt.Sprintf("syntax error: %v", err),
			Category: CategorySyntaxError,
		}}
	}
	syntax.Walk(tree, func(n syntax.Node) bool {
		if n == nil {
			return true
		}
		add := func(category, message string) {
			start, _ := n.Span()
			issues = append(issues, Issue{
				Expr:     expr,
				Message:  message,
				Category: category,
				Line:     start.Line,
				Col:      start.Col,
			})
		}
		switch node := n.(type) {
		case *syntax.Ident:
			if allowedNames != nil && !allowedNames[node.Name] && !universeNames[node.Name] {
				add(CategoryUnknownName, fmt.Sprintf("unknown name: %s", node.Name))
			}
		case *syntax.Literal, *syntax.ParenExpr, *syntax.CondExpr:
			// allowed
		case *syntax.BinaryExpr:
			if !allowedBinaryOps[node.Op] {
				add(CategoryDisallowedNode, fmt.Sprintf("disallowed operator: %s", node.Op))
			}
		case *syntax.UnaryExpr:
			if !allowedUnaryOps[node.Op] {
				add(CategoryDisallowedNode, fmt.Sprintf("disallowed operator: %s", node.Op))
			}
		case *syntax.CallExpr:
			add(CategoryFunctionCall, "disallowed syntax: function call")
		case *syntax.DotExpr:
			add(CategoryAttributeAccess, "disallowed syntax: attribute access")
		case *syntax.IndexExpr, *syntax.SliceExpr:
			add(CategorySubscript, "disallowed syntax: subscript")
		case *syntax.LambdaExpr:
			add(CategoryLambda, "disallowed syntax: lambda")
		case *syntax.Comprehension:
			add(CategoryComprehension, "disallowed syntax: comprehension")
		default:
			add(CategoryDisallowedNode, fmt.Sprintf("disallowed node: %T", n))
		}
		return true
	})
	return issues
}

// ExprNames returns the set of identifiers referenced by an expression.
// Unparseable expressions yield an empty set; the scan reports those
// separately.
func ExprNames(code string) map[string]bool {
	names := map[string]bool{}
	tree, err := parseOpts.ParseExpr("<expr>", strings.TrimSpace(code), 0)
	if err != nil {
		return names
	}
	syntax.Walk(tree, func(n syntax.Node) bool {
		if ident, ok := n.(*syntax.Ident); ok {
			names[ident.Name] = true
		}
		return true
	})
	return names
}

// ScanRulesText scans every expr transform and derived entry in a raw rule
// document. Transform expressions see only "value", so their names are not
// checked; derived expressions are checked against the union of base fields
// and derived names. JSON parse failures produce a single syntax_error issue
// rather than an error.
func ScanRulesText(raw string) Report {
	var report Report
	text := strings.TrimSpace(raw)
	if text == "" {
		text = "{}"
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		report.Issues = append(report.Issues, Issue{
			Expr:     "<rules>",
			Message:  fmt.Sprintf("cannot parse JSON: %v", err),
			Category: CategorySyntaxError,
			Source:   "rules",
		})
		return report
	}

	baseFields := map[string]bool{}
	for _, spec := range resourceSpecs(data) {
		for _, f := range specFieldNames(spec) {
			baseFields[f] = true
		}
	}

	for _, te := range transformExprs(data) {
		report.ExpressionsScanned++
		for _, issue := range ScanExpression(te.code, nil) {
			issue.Source = "transform"
			issue.Field = te.field
			report.Issues = append(report.Issues, issue)
		}
	}

	if derived, ok := data["derived"].(map[string]any); ok {
		allowed := map[string]bool{}
		for name := range baseFields {
			allowed[name] = true
		}
		for name := range derived {
			allowed[name] = true
		}
		names := make([]string, 0, len(derived))
		for name := range derived {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			code, ok := derived[name].(string)
			if !ok {
				continue
			}
			report.ExpressionsScanned++
			for _, issue := range ScanExpression(code, allowed) {
				issue.Source = "derived"
				issue.Field = name
				report.Issues = append(report.Issues, issue)
			}
		}
	}

	report.OK = len(report.Issues) == 0
	return report
}

// ContainsCustomCode reports whether a raw rule payload declares any expr
// transform or legacy custom-code construct. This is the pre-flight check
// behind the disallow_custom_code setting: it blocks simulation outright,
// independent of scan findings.
func ContainsCustomCode(payload map[string]any) bool {
	for _, value := range payload {
		if nested, ok := value.(map[string]any); ok {
			for key := range nested {
				if strings.Contains(strings.ToLower(key), "python") {
					return true
				}
			}
		}
	}
	if derived, ok := payload["derived"].(map[string]any); ok && len(derived) > 0 {
		return true
	}
	return containsExprSpec(payload)
}

func containsExprSpec(obj any) bool {
	switch v := obj.(type) {
	case map[string]any:
		if kind, _ := v["kind"].(string); kind == "expr" {
			if _, ok := v["code"]; ok {
				return true
			}
		}
		for _, nested := range v {
			if containsExprSpec(nested) {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if containsExprSpec(item) {
				return true
			}
		}
	}
	return false
}

type transformExpr struct {
	resource string
	field    string
	code     string
}

func resourceSpecs(data map[string]any) map[string]map[string]any {
	out := map[string]map[string]any{}
	resources, ok := data["resources"].(map[string]any)
	if !ok {
		return out
	}
	for name, raw := range resources {
		if spec, ok := raw.(map[string]any); ok {
			out[name] = spec
		}
	}
	return out
}

func specFieldNames(spec map[string]any) []string {
	var names []string
	switch spec["kind"] {
	case "table":
		if cols, ok := spec["columns"].([]any); ok {
			for _, c := range cols {
				if s, ok := c.(string); ok {
					names = append(names, s)
				}
			}
		}
	case "list":
		if fields, ok := spec["fields"].(map[string]any); ok {
			for name := range fields {
				names = append(names, name)
			}
		}
	}
	return names
}

func transformExprs(data map[string]any) []transformExpr {
	var out []transformExpr
	specs := resourceSpecs(data)
	resourceNames := make([]string, 0, len(specs))
	for name := range specs {
		resourceNames = append(resourceNames, name)
	}
	sort.Strings(resourceNames)
	for _, rname := range resourceNames {
		fields, ok := specs[rname]["fields"].(map[string]any)
		if !ok {
			continue
		}
		fieldNames := make([]string, 0, len(fields))
		for name := range fields {
			fieldNames = append(fieldNames, name)
		}
		sort.Strings(fieldNames)
		for _, fname := range fieldNames {
			fmap, ok := fields[fname].(map[string]any)
			if !ok {
				continue
			}
			transforms, ok := fmap["transforms"].([]any)
			if !ok {
				continue
			}
			for _, t := range transforms {
				spec, ok := t.(map[string]any)
				if !ok {
					continue
				}
				if kind, _ := spec["kind"].(string); kind != "expr" {
					continue
				}
				if code, ok := spec["code"].(string); ok {
					out = append(out, transformExpr{resource: rname, field: fname, code: code})
				}
			}
		}
	}
	return out
}
