// Package transform executes field value transform chains. Every transform
// is a pure function over the current pipeline value; chains apply strictly
// left to right and stop on the first failure.
package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/rules"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/sandbox"
)

// ExecutionError reports a transform that cannot run safely or fails
// irrecoverably. The extraction adapter catches it per field, turning the
// value into a null plus a warning instead of aborting the row.
type ExecutionError struct {
	Kind   string
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s transform: %s", e.Kind, e.Reason)
}

func execErrorf(kind, format string, args ...any) *ExecutionError {
	return &ExecutionError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// ApplyChain applies the specs in order. allowExpressions is the execution
// time gate for expr transforms, checked independently of the schema-time
// permission (defense in depth). A nil value short-circuits most transforms
// but still reaches expr, so an expression can manufacture a value.
func ApplyChain(value any, specs []rules.TransformSpec, allowExpressions bool) (any, error) {
	current := value
	for _, spec := range specs {
		next, err := applyOne(current, spec, allowExpressions)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

var (
	wsRun        = regexp.MustCompile(`\s+`)
	digitSepRun  = regexp.MustCompile(`(\d)[\s_]+(\d)`)
	intPattern   = regexp.MustCompile(`^[-+]?\d+$`)
	decimalComma = regexp.MustCompile(`^[^,]*,\d{2}$`)
)

func applyOne(value any, spec rules.TransformSpec, allowExpressions bool) (any, error) {
	switch spec.Kind {
	case rules.KindTrim:
		if value == nil {
			return nil, nil
		}
		return strings.TrimSpace(toString(value)), nil

	case rules.KindCollapseWS:
		if value == nil {
			return nil, nil
		}
		return strings.TrimSpace(wsRun.ReplaceAllString(toString(value), " ")), nil

	case rules.KindToNumber:
		if value == nil {
			return nil, nil
		}
		return toNumber(toString(value))

	case rules.KindParseDate:
		if value == nil {
			return nil, nil
		}
		return parseDate(toString(value), spec.Formats)

	case rules.KindExpr:
		if !allowExpressions {
			return nil, execErrorf(spec.Kind, "expression execution disabled (allow_expressions=false)")
		}
		result, err := sandbox.EvalExpr(spec.Code, map[string]any{"value": value})
		if err != nil {
			return nil, execErrorf(spec.Kind, "%v", err)
		}
		return result, nil

	default:
		return nil, execErrorf(spec.Kind, "unsupported transform kind at execution")
	}
}

// toNumber parses integers and floats tolerating grouping separators.
// Comma handling is a best-effort locale heuristic, not a locale parser:
// a single comma followed by exactly two trailing digits reads as a decimal
// separator, every other comma as thousands grouping. The ambiguity is
// inherent to the input, so unparseable text errors rather than guessing.
func toNumber(text string) (any, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}
	norm := strings.ReplaceAll(trimmed, "\u00a0", " ")
	for {
		collapsed := digitSepRun.ReplaceAllString(norm, "$1$2")
		if collapsed == norm {
			break
		}
		norm = collapsed
	}
	if strings.Count(norm, ",") == 1 && decimalComma.MatchString(norm) {
		norm = strings.ReplaceAll(norm, ".", "")
		norm = strings.Replace(norm, ",", ".", 1)
	} else {
		norm = strings.ReplaceAll(norm, ",", "")
	}
	if intPattern.MatchString(norm) {
		n, err := strconv.ParseInt(norm, 10, 64)
		if err != nil {
			return nil, execErrorf(rules.KindToNumber, "failed int parse: %s", norm)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(norm, 64)
	if err != nil {
		return nil, execErrorf(rules.KindToNumber, "failed float parse: %s", norm)
	}
	return f, nil
}

// parseDate tries the layouts in order and normalizes the first match to
// YYYY-MM-DD.
func parseDate(text string, layouts []string) (any, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil, nil
	}
	if len(layouts) == 0 {
		return nil, execErrorf(rules.KindParseDate, "parse_date requires formats at execution time")
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return nil, execErrorf(rules.KindParseDate, "could not parse value %q with provided formats", raw)
}

func toString(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}
