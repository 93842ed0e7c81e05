package sandbox

import (
	"fmt"
	"math"
	"strings"

	"go.starlark.net/starlark"
)

// MaxExprLen bounds expression source length at execution time.
const MaxExprLen = 200

// EvalError reports a rejected or failed expression evaluation.
type EvalError struct {
	Expr   string
	Reason string
}

func (e *EvalError) Error() string { return e.Reason }

func evalErrorf(expr, format string, args ...any) *EvalError {
	return &EvalError{Expr: expr, Reason: fmt.Sprintf(format, args...)}
}

// EvalExpr evaluates an expression with the given names bound. The static
// scan runs first, so calls, attribute access, subscripts and unknown names
// are rejected before the interpreter ever sees the code. The Starlark
// environment carries no builtins at all.
func EvalExpr(code string, env map[string]any) (any, error) {
	cleaned := strings.TrimSpace(code)
	if cleaned == "" {
		return nil, evalErrorf(code, "expression is empty")
	}
	if len(cleaned) > MaxExprLen {
		return nil, evalErrorf(code, "expression too long (limit=%d chars)", MaxExprLen)
	}

	allowed := map[string]bool{}
	for name := range env {
		allowed[name] = true
	}
	if issues := ScanExpression(cleaned, allowed); len(issues) > 0 {
		first := issues[0]
		return nil, evalErrorf(code, "expression rejected (%s): %s", first.Category, first.Message)
	}

	expr, err := parseOpts.ParseExpr("<expr>", cleaned, 0)
	if err != nil {
		return nil, evalErrorf(code, "syntax error: %v", err)
	}

	globals := starlark.StringDict{}
	for name, value := range env {
		globals[name] = toStarlark(value)
	}
	thread := &starlark.Thread{Name: "sandbox"}
	result, err := starlark.EvalExprOptions(parseOpts, thread, expr, globals)
	if err != nil {
		return nil, evalErrorf(code, "expression failed: %v", err)
	}
	return fromStarlark(result), nil
}

func toStarlark(value any) starlark.Value {
	switch v := value.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(v)
	case string:
		return starlark.String(v)
	case int:
		return starlark.MakeInt(v)
	case int64:
		return starlark.MakeInt64(v)
	case float64:
		return starlark.Float(v)
	default:
		return starlark.String(fmt.Sprintf("%v", v))
	}
}

func fromStarlark(value starlark.Value) any {
	switch v := value.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(v)
	case starlark.String:
		return string(v)
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i
		}
		f, _ := starlark.AsFloat(v)
		return f
	case starlark.Float:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	default:
		return value.String()
	}
}
