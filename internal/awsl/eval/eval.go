// Package eval implements the expression evaluator (C2): evalValue and
// evalCondition over the live channel state. Conditions are compiled and
// run through github.com/expr-lang/expr rather than a host-language eval,
// per spec.md's open question on replacing the original's unsafe eval with
// a constrained interpreter.
package eval

import (
	"strings"
	"unicode"

	"github.com/expr-lang/expr"

	"github.com/madmag77/bpmn-workflows/internal/awsl/ir"
)

// Value evaluates a parsed scalar/reference literal against the current
// channel state. Quoted strings, numbers, booleans, and durations evaluate
// to themselves; bare and qualified identifiers are treated as channel
// keys and looked up in state (nil if absent).
func Value(raw ir.Value, state map[string]any) any {
	switch raw.Kind {
	case "string":
		return raw.Str
	case "int":
		return raw.Int
	case "float":
		return raw.Float
	case "bool":
		return raw.Bool
	case "duration":
		return raw.Duration
	case "qualified":
		return state[raw.Qualifier+"."+raw.Str]
	case "ident":
		return state[raw.Str]
	default:
		return nil
	}
}

// Condition evaluates a guard/when expression against the current channel
// state. Ill-formed expressions and references to unknown channels fold to
// false rather than raising, matching spec.md §4.2's failure policy.
//
// Qualified references ("Node.port") are flattened to single identifiers
// before compilation, since expr-lang treats a dot as field access rather
// than part of an identifier. The legacy convention that a bare string
// literal "GOOD" is truthy is preserved (spec.md §9 open question).
func Condition(rawExpr string, state map[string]any) bool {
	rawExpr = strings.TrimSpace(rawExpr)
	if rawExpr == "" {
		return false
	}

	normalized, vars := normalize(rawExpr, state)

	program, err := expr.Compile(normalized, expr.Env(vars), expr.AsBool())
	if err != nil {
		program, err = expr.Compile(normalized, expr.Env(vars))
		if err != nil {
			return false
		}
	}

	out, err := expr.Run(program, vars)
	if err != nil {
		return false
	}

	switch v := out.(type) {
	case bool:
		return v
	case string:
		return v == "GOOD"
	default:
		return false
	}
}

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }
func isIdentPart(r rune) bool  { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

// normalize rewrites every "Name.port"-shaped reference outside of string
// literals into a flattened identifier ("Name__port") and returns a vars
// map suitable for expr.Env/expr.Run. Bare "True"/"False" tokens (the
// original Python source's spelling) are lowercased to AWSL's boolean
// literals.
func normalize(src string, state map[string]any) (string, map[string]any) {
	vars := map[string]any{}
	var out strings.Builder
	runes := []rune(src)
	i := 0
	inStr := false

	for i < len(runes) {
		r := runes[i]

		if inStr {
			out.WriteRune(r)
			if r == '"' {
				inStr = false
			}
			i++
			continue
		}

		if r == '"' {
			inStr = true
			out.WriteRune(r)
			i++
			continue
		}

		if isIdentStart(r) {
			j := i + 1
			for j < len(runes) && isIdentPart(runes[j]) {
				j++
			}
			full := string(runes[i:j])
			k := j
			for k < len(runes) && runes[k] == '.' && k+1 < len(runes) && isIdentStart(runes[k+1]) {
				m := k + 1
				for m < len(runes) && isIdentPart(runes[m]) {
					m++
				}
				full += "." + string(runes[k+1:m])
				k = m
			}

			switch full {
			case "True":
				out.WriteString("true")
			case "False":
				out.WriteString("false")
			case "true", "false", "and", "or", "not":
				out.WriteString(full)
			default:
				flat := strings.ReplaceAll(full, ".", "__")
				vars[flat] = state[full]
				out.WriteString(flat)
			}
			i = k
			continue
		}

		out.WriteRune(r)
		i++
	}

	return out.String(), vars
}
