// Package rules defines the declarative extraction rule schema.
// A rule document (JSON-compatible mapping) is validated eagerly into an
// immutable RuleSet; malformed documents fail fast with a RuleError and
// never produce a partially built set.
package rules

import (
	"fmt"
	"sort"
	"strings"
)

// RulesetVersion is the current schema version. It increments on breaking
// structural changes; consumers embed it in persisted documents.
const RulesetVersion = 1

// RuleError reports an invalid rule declaration. It is returned (never
// panicked) by all constructors in this package.
type RuleError struct {
	Reason string
}

func (e *RuleError) Error() string { return e.Reason }

func ruleErrorf(format string, args ...any) *RuleError {
	return &RuleError{Reason: fmt.Sprintf(format, args...)}
}

// Transform kinds accepted in rule documents.
const (
	KindTrim       = "trim"
	KindCollapseWS = "collapse_ws"
	KindToNumber   = "to_number"
	KindParseDate  = "parse_date"
	KindExpr       = "expr"
)

var simpleKinds = map[string]bool{
	KindTrim:       true,
	KindCollapseWS: true,
	KindToNumber:   true,
}

// TransformSpec describes a single value transformation in a chain.
//
// Serialization forms accepted in rule documents:
//   - bare string for parameterless kinds: "trim", "collapse_ws", "to_number"
//   - mapping with "kind" and parameters:
//     {"kind": "parse_date", "formats": ["02.01.2006"]}
//     {"kind": "expr", "code": "value * 2"}
type TransformSpec struct {
	Kind    string
	Formats []string // parse_date layouts, tried in order
	Code    string   // expr source
}

// ParseTransform validates a raw transform value from a rule document.
// Expression transforms are only constructible when allowExpr is true.
func ParseTransform(obj any, allowExpr bool) (TransformSpec, error) {
	switch v := obj.(type) {
	case string:
		kind := strings.TrimSpace(v)
		if kind == "" {
			return TransformSpec{}, ruleErrorf("transform string cannot be empty")
		}
		if !simpleKinds[kind] {
			return TransformSpec{}, ruleErrorf("unsupported simple transform: %s", kind)
		}
		return TransformSpec{Kind: kind}, nil
	case map[string]any:
		kind, _ := v["kind"].(string)
		switch kind {
		case KindTrim, KindCollapseWS, KindToNumber:
			return TransformSpec{Kind: kind}, nil
		case KindParseDate:
			formats, err := stringList(v["formats"])
			if err != nil || len(formats) == 0 {
				return TransformSpec{}, ruleErrorf("parse_date transform requires non-empty list 'formats'")
			}
			return TransformSpec{Kind: KindParseDate, Formats: formats}, nil
		case KindExpr:
			if !allowExpr {
				return TransformSpec{}, ruleErrorf("expression transforms disabled (allow_expressions=false)")
			}
			code, _ := v["code"].(string)
			if strings.TrimSpace(code) == "" {
				return TransformSpec{}, ruleErrorf("expression transform requires non-empty 'code'")
			}
			return TransformSpec{Kind: KindExpr, Code: code}, nil
		default:
			return TransformSpec{}, ruleErrorf("unsupported transform kind: %q", kind)
		}
	default:
		return TransformSpec{}, ruleErrorf("unsupported transform spec value: %v", obj)
	}
}

// ToValue serializes the spec back to its document form. Parameterless kinds
// canonicalize to bare strings.
func (t TransformSpec) ToValue() any {
	if simpleKinds[t.Kind] && len(t.Formats) == 0 && t.Code == "" {
		return t.Kind
	}
	out := map[string]any{"kind": t.Kind}
	if len(t.Formats) > 0 {
		out["formats"] = anyList(t.Formats)
	}
	if t.Code != "" {
		out["code"] = t.Code
	}
	return out
}

// FieldMapping maps an extracted field to a CSS selector plus an ordered
// transform chain. Transform order is significant.
type FieldMapping struct {
	Selector   string
	Transforms []TransformSpec
}

// ToValue serializes the mapping; fields without transforms canonicalize to
// the structured form as well (shorthand input is one-way).
func (f FieldMapping) ToValue() map[string]any {
	out := map[string]any{"selector": f.Selector}
	if len(f.Transforms) > 0 {
		specs := make([]any, 0, len(f.Transforms))
		for _, t := range f.Transforms {
			specs = append(specs, t.ToValue())
		}
		out["transforms"] = specs
	}
	return out
}

func parseFieldMapping(value any, allowExpr bool) (FieldMapping, error) {
	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return FieldMapping{}, ruleErrorf("field selector cannot be empty")
		}
		return FieldMapping{Selector: strings.TrimSpace(v)}, nil
	case map[string]any:
		sel, _ := v["selector"].(string)
		if strings.TrimSpace(sel) == "" {
			return FieldMapping{}, ruleErrorf("field mapping requires non-empty 'selector'")
		}
		fm := FieldMapping{Selector: strings.TrimSpace(sel)}
		if raw, ok := v["transforms"]; ok && raw != nil {
			list, ok := raw.([]any)
			if !ok {
				return FieldMapping{}, ruleErrorf("field 'transforms' must be a list")
			}
			for idx, tval := range list {
				spec, err := ParseTransform(tval, allowExpr)
				if err != nil {
					return FieldMapping{}, ruleErrorf("invalid transform at index %d: %v", idx, err)
				}
				fm.Transforms = append(fm.Transforms, spec)
			}
		}
		return fm, nil
	default:
		return FieldMapping{}, ruleErrorf("unsupported field mapping value: %v", value)
	}
}

// Resource is the closed set of extraction rule variants.
type Resource interface {
	// Kind returns "table" or "list".
	Kind() string
	// FieldNames returns the output field names in deterministic order.
	FieldNames() []string
	toValue() map[string]any
}

// TableRule extracts structured rows with positionally declared columns.
type TableRule struct {
	Selector string
	Columns  []string
	Extends  string
}

// Kind implements Resource.
func (r *TableRule) Kind() string { return "table" }

// FieldNames returns the declared column order.
func (r *TableRule) FieldNames() []string { return append([]string(nil), r.Columns...) }

func (r *TableRule) validate() error {
	if strings.TrimSpace(r.Selector) == "" {
		return ruleErrorf("table selector cannot be empty")
	}
	if len(r.Columns) == 0 {
		return ruleErrorf("table columns cannot be empty")
	}
	seen := map[string]bool{}
	var dups []string
	for _, c := range r.Columns {
		if strings.TrimSpace(c) == "" {
			return ruleErrorf("table column names must be non-empty strings")
		}
		if seen[c] {
			dups = append(dups, c)
		}
		seen[c] = true
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		return ruleErrorf("duplicate column names: %s", strings.Join(dups, ", "))
	}
	return nil
}

func (r *TableRule) toValue() map[string]any {
	out := map[string]any{
		"kind":     "table",
		"selector": r.Selector,
		"columns":  anyList(r.Columns),
	}
	if r.Extends != "" {
		out["extends"] = r.Extends
	}
	return out
}

// ListRule extracts one record per item-selector match, each field via its
// own selector relative to the item node.
type ListRule struct {
	Selector     string
	ItemSelector string
	Fields       map[string]FieldMapping
	Extends      string
}

// Kind implements Resource.
func (r *ListRule) Kind() string { return "list" }

// FieldNames returns field names sorted for deterministic iteration.
func (r *ListRule) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *ListRule) validate() error {
	if strings.TrimSpace(r.Selector) == "" {
		return ruleErrorf("list selector cannot be empty")
	}
	if strings.TrimSpace(r.ItemSelector) == "" {
		return ruleErrorf("list item_selector cannot be empty")
	}
	if len(r.Fields) == 0 {
		return ruleErrorf("list fields cannot be empty")
	}
	for name := range r.Fields {
		if strings.TrimSpace(name) == "" {
			return ruleErrorf("field names must be non-empty strings")
		}
	}
	return nil
}

func (r *ListRule) toValue() map[string]any {
	fields := map[string]any{}
	for name, fm := range r.Fields {
		fields[name] = fm.ToValue()
	}
	out := map[string]any{
		"kind":          "list",
		"selector":      r.Selector,
		"item_selector": r.ItemSelector,
		"fields":        fields,
	}
	if r.Extends != "" {
		out["extends"] = r.Extends
	}
	return out
}

// RuleSet is the validated, read-only form of a rule document.
type RuleSet struct {
	Version          int
	AllowExpressions bool
	Resources        map[string]Resource
	Derived          map[string]string
	QualityGates     map[string]float64
}

// ResourceNames returns resource names sorted for deterministic iteration.
func (rs *RuleSet) ResourceNames() []string {
	names := make([]string, 0, len(rs.Resources))
	for name := range rs.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DerivedNames returns derived field names sorted.
func (rs *RuleSet) DerivedNames() []string {
	names := make([]string, 0, len(rs.Derived))
	for name := range rs.Derived {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resource returns the named resource or a RuleError.
func (rs *RuleSet) Resource(name string) (Resource, error) {
	res, ok := rs.Resources[name]
	if !ok {
		return nil, ruleErrorf("unknown resource: %s", name)
	}
	return res, nil
}

// BaseFieldNames returns the union of all table columns and list field names.
func (rs *RuleSet) BaseFieldNames() []string {
	set := map[string]bool{}
	for _, res := range rs.Resources {
		for _, f := range res.FieldNames() {
			set[f] = true
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromMapping builds and validates a RuleSet from a decoded rule document.
// Resource inheritance via "extends" is resolved in a second pass; cyclic
// inheritance is rejected.
func FromMapping(payload map[string]any) (*RuleSet, error) {
	if payload == nil {
		return nil, ruleErrorf("ruleset payload must be a mapping")
	}
	version := RulesetVersion
	if raw, ok := payload["version"]; ok {
		n, ok := asInt(raw)
		if !ok {
			return nil, ruleErrorf("ruleset 'version' must be an integer")
		}
		version = n
	}
	allowExpr := false
	if raw, ok := payload["allow_expressions"]; ok {
		b, ok := raw.(bool)
		if !ok {
			return nil, ruleErrorf("ruleset 'allow_expressions' must be a bool")
		}
		allowExpr = b
	}

	rawResources := map[string]any{}
	if raw, ok := payload["resources"]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, ruleErrorf("ruleset 'resources' must be a mapping")
		}
		rawResources = m
	}

	rawSpecs := map[string]map[string]any{}
	for name, spec := range rawResources {
		if strings.TrimSpace(name) == "" {
			return nil, ruleErrorf("resource names must be non-empty strings")
		}
		m, ok := spec.(map[string]any)
		if !ok {
			return nil, ruleErrorf("resource %q must be a mapping", name)
		}
		rawSpecs[name] = m
	}

	builder := &resourceBuilder{
		rawSpecs:  rawSpecs,
		allowExpr: allowExpr,
		building:  map[string]bool{},
		built:     map[string]Resource{},
	}
	names := make([]string, 0, len(rawSpecs))
	for name := range rawSpecs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := builder.build(name); err != nil {
			return nil, err
		}
	}

	derived, err := parseDerived(payload["derived"])
	if err != nil {
		return nil, err
	}
	gates, err := ParseGateConfig(payload["quality_gates"])
	if err != nil {
		return nil, err
	}

	return &RuleSet{
		Version:          version,
		AllowExpressions: allowExpr,
		Resources:        builder.built,
		Derived:          derived,
		QualityGates:     gates,
	}, nil
}

type resourceBuilder struct {
	rawSpecs  map[string]map[string]any
	allowExpr bool
	building  map[string]bool
	built     map[string]Resource
}

func (b *resourceBuilder) build(name string) (Resource, error) {
	if res, ok := b.built[name]; ok {
		return res, nil
	}
	if b.building[name] {
		return nil, ruleErrorf("cyclic inheritance detected at resource %q", name)
	}
	spec, ok := b.rawSpecs[name]
	if !ok {
		return nil, ruleErrorf("unknown resource referenced in extends: %q", name)
	}
	b.building[name] = true
	defer delete(b.building, name)

	var parent Resource
	parentName, _ := spec["extends"].(string)
	if raw, ok := spec["extends"]; ok && raw != nil {
		if strings.TrimSpace(parentName) == "" {
			return nil, ruleErrorf("resource %q has invalid 'extends' value", name)
		}
		p, err := b.build(parentName)
		if err != nil {
			return nil, err
		}
		parent = p
	}

	kind, _ := spec["kind"].(string)
	var res Resource
	switch kind {
	case "table":
		rule, err := b.buildTable(name, spec, parent, parentName)
		if err != nil {
			return nil, err
		}
		res = rule
	case "list":
		rule, err := b.buildList(name, spec, parent, parentName)
		if err != nil {
			return nil, err
		}
		res = rule
	default:
		return nil, ruleErrorf("resource %q missing or unsupported kind: %q", name, kind)
	}
	b.built[name] = res
	return res, nil
}

func (b *resourceBuilder) buildTable(name string, spec map[string]any, parent Resource, parentName string) (*TableRule, error) {
	var parentTable *TableRule
	if parent != nil {
		pt, ok := parent.(*TableRule)
		if !ok {
			return nil, ruleErrorf("resource %q extends non-table parent %q", name, parentName)
		}
		parentTable = pt
	}
	selector, _ := spec["selector"].(string)
	if selector == "" && parentTable != nil {
		selector = parentTable.Selector
	}
	var columns []string
	if raw, ok := spec["columns"]; ok && raw != nil {
		cols, err := stringList(raw)
		if err != nil {
			return nil, ruleErrorf("resource %q table 'columns' must be a list of strings", name)
		}
		columns = cols
	} else if parentTable != nil {
		columns = append([]string(nil), parentTable.Columns...)
	}
	rule := &TableRule{Selector: strings.TrimSpace(selector), Columns: columns, Extends: parentName}
	if err := rule.validate(); err != nil {
		return nil, ruleErrorf("resource %q: %v", name, err)
	}
	return rule, nil
}

func (b *resourceBuilder) buildList(name string, spec map[string]any, parent Resource, parentName string) (*ListRule, error) {
	var parentList *ListRule
	if parent != nil {
		pl, ok := parent.(*ListRule)
		if !ok {
			return nil, ruleErrorf("resource %q extends non-list parent %q", name, parentName)
		}
		parentList = pl
	}
	selector, _ := spec["selector"].(string)
	itemSelector, _ := spec["item_selector"].(string)
	merged := map[string]FieldMapping{}
	if parentList != nil {
		for fname, fm := range parentList.Fields {
			merged[fname] = FieldMapping{
				Selector:   fm.Selector,
				Transforms: append([]TransformSpec(nil), fm.Transforms...),
			}
		}
		if selector == "" {
			selector = parentList.Selector
		}
		if itemSelector == "" {
			itemSelector = parentList.ItemSelector
		}
	}
	if raw, ok := spec["fields"]; ok && raw != nil {
		fields, ok := raw.(map[string]any)
		if !ok {
			return nil, ruleErrorf("resource %q list 'fields' must be a mapping", name)
		}
		for fname, fval := range fields {
			fm, err := parseFieldMapping(fval, b.allowExpr)
			if err != nil {
				return nil, ruleErrorf("resource %q field %q: %v", name, fname, err)
			}
			merged[fname] = fm
		}
	}
	rule := &ListRule{
		Selector:     strings.TrimSpace(selector),
		ItemSelector: strings.TrimSpace(itemSelector),
		Fields:       merged,
		Extends:      parentName,
	}
	if err := rule.validate(); err != nil {
		return nil, ruleErrorf("resource %q: %v", name, err)
	}
	return rule, nil
}

func parseDerived(raw any) (map[string]string, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, ruleErrorf("ruleset 'derived' must be a mapping")
	}
	out := map[string]string{}
	for name, expr := range m {
		code, ok := expr.(string)
		if !ok || strings.TrimSpace(code) == "" {
			return nil, ruleErrorf("derived field %q requires a non-empty expression string", name)
		}
		out[name] = code
	}
	return out, nil
}

// ParseGateConfig normalizes quality gate configuration. It accepts the flat
// form {"resource.field": ratio} and the nested form
// {"resource": {"field": ratio}}; both may appear together.
func ParseGateConfig(raw any) (map[string]float64, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, ruleErrorf("ruleset 'quality_gates' must be a mapping")
	}
	out := map[string]float64{}
	for key, value := range m {
		switch v := value.(type) {
		case float64:
			out[key] = v
		case int:
			out[key] = float64(v)
		case map[string]any:
			for field, thresh := range v {
				ratio, ok := asFloat(thresh)
				if !ok {
					return nil, ruleErrorf("quality gate %s.%s threshold must be numeric", key, field)
				}
				out[key+"."+field] = ratio
			}
		default:
			return nil, ruleErrorf("quality gate %q threshold must be numeric", key)
		}
	}
	for dotted, ratio := range out {
		if ratio < 0 || ratio > 1 {
			return nil, ruleErrorf("quality gate %q threshold %v outside [0,1]", dotted, ratio)
		}
	}
	return out, nil
}

// ToMapping serializes the set back to document form. Repeated
// FromMapping/ToMapping round trips canonicalize to a fixed point.
func (rs *RuleSet) ToMapping() map[string]any {
	resources := map[string]any{}
	for name, res := range rs.Resources {
		resources[name] = res.toValue()
	}
	out := map[string]any{
		"version":   rs.Version,
		"resources": resources,
	}
	if rs.AllowExpressions {
		out["allow_expressions"] = true
	}
	if len(rs.Derived) > 0 {
		derived := map[string]any{}
		for name, expr := range rs.Derived {
			derived[name] = expr
		}
		out["derived"] = derived
	}
	if len(rs.QualityGates) > 0 {
		gates := map[string]any{}
		for dotted, ratio := range rs.QualityGates {
			gates[dotted] = ratio
		}
		out["quality_gates"] = gates
	}
	return out
}
