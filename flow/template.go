package flow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

// Template resolution over step configuration.
//
// Two rules, in order:
//
//  1. A string that is exactly one "{{path}}" placeholder, where the body is
//     a plain dot path with no filters, resolves to the referenced value with
//     its type preserved. A list stays a list, a number stays a number.
//  2. Any other string containing placeholders is rendered: each placeholder
//     body is evaluated as an expression, optional "|filter" stages are
//     applied, and the result is stringified into place.
//
// Both rules are strict: a placeholder referencing a name absent from the
// scope is an error, never an empty string.

var (
	placeholderRe = regexp.MustCompile(`\{\{([^{}]*)\}\}`)
	exactRe       = regexp.MustCompile(`^\{\{([^{}]*)\}\}$`)
	pathRe        = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)
)

// TemplateError reports a placeholder that failed to resolve.
type TemplateError struct {
	Expr string
	Err  error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template {{%s}}: %v", e.Expr, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// ResolveConfig resolves every templated string in a configuration map
// against the scope, recursing through nested maps and lists.
func ResolveConfig(cfg map[string]any, scope map[string]any) (map[string]any, error) {
	out, err := ResolveValue(cfg, scope)
	if err != nil {
		return nil, err
	}
	m, _ := out.(map[string]any)
	return m, nil
}

// ResolveValue resolves one configuration value. Strings go through the
// template rules, containers recurse, everything else passes through.
func ResolveValue(v any, scope map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveString(val, scope)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := ResolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := ResolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(s string, scope map[string]any) (any, error) {
	trimmed := strings.TrimSpace(s)
	if m := exactRe.FindStringSubmatch(trimmed); m != nil {
		body := strings.TrimSpace(m[1])
		if pathRe.MatchString(body) {
			v, err := LookupPath(scope, body)
			if err != nil {
				return nil, &TemplateError{Expr: body, Err: err}
			}
			return v, nil
		}
	}
	if !placeholderRe.MatchString(s) {
		return s, nil
	}

	var renderErr error
	rendered := placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		if renderErr != nil {
			return ""
		}
		body := strings.TrimSpace(placeholderRe.FindStringSubmatch(match)[1])
		v, err := renderPlaceholder(body, scope)
		if err != nil {
			renderErr = err
			return ""
		}
		return v
	})
	if renderErr != nil {
		return nil, renderErr
	}
	return rendered, nil
}

func renderPlaceholder(body string, scope map[string]any) (string, error) {
	stages := splitPipes(body)
	head := strings.TrimSpace(stages[0])
	if head == "" {
		return "", &TemplateError{Expr: body, Err: fmt.Errorf("empty placeholder")}
	}

	var v any
	var err error
	if pathRe.MatchString(head) {
		v, err = LookupPath(scope, head)
	} else {
		v, err = evalTemplateExpr(head, scope)
	}
	if err != nil {
		return "", &TemplateError{Expr: body, Err: err}
	}

	for _, stage := range stages[1:] {
		name := strings.TrimSpace(stage)
		v, err = applyFilter(name, v)
		if err != nil {
			return "", &TemplateError{Expr: body, Err: err}
		}
	}
	return stringify(v), nil
}

// splitPipes splits filter stages on single '|' characters, leaving the
// logical-or operator "||" intact.
func splitPipes(s string) []string {
	var parts []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			if i+1 < len(s) && s[i+1] == '|' {
				cur.WriteString("||")
				i++
				continue
			}
			parts = append(parts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(s[i])
	}
	parts = append(parts, cur.String())
	return parts
}

// evalTemplateExpr evaluates a placeholder expression. Root names are checked
// against the scope up front so a typo fails loudly instead of rendering as
// nothing.
func evalTemplateExpr(src string, scope map[string]any) (any, error) {
	roots, err := rootIdentifiers(src)
	if err != nil {
		return nil, err
	}
	env := withLiteralAliases(scope)
	for _, root := range roots {
		if _, ok := env[root]; !ok {
			return nil, fmt.Errorf("undefined variable %q", root)
		}
	}
	program, err := expr.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression: %w", err)
	}
	return out, nil
}

func applyFilter(name string, v any) (any, error) {
	switch name {
	case "upper":
		return strings.ToUpper(stringify(v)), nil
	case "lower":
		return strings.ToLower(stringify(v)), nil
	case "trim":
		return strings.TrimSpace(stringify(v)), nil
	case "length":
		switch val := v.(type) {
		case string:
			return len(val), nil
		case []any:
			return len(val), nil
		case map[string]any:
			return len(val), nil
		default:
			return nil, fmt.Errorf("filter length: unsupported type %T", v)
		}
	case "json":
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("filter json: %w", err)
		}
		return string(b), nil
	case "first":
		if list, ok := v.([]any); ok && len(list) > 0 {
			return list[0], nil
		}
		return nil, fmt.Errorf("filter first: value is not a non-empty list")
	case "last":
		if list, ok := v.([]any); ok && len(list) > 0 {
			return list[len(list)-1], nil
		}
		return nil, fmt.Errorf("filter last: value is not a non-empty list")
	default:
		return nil, fmt.Errorf("unknown filter %q", name)
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// ExtractTemplateRefs walks a configuration value and returns the sorted,
// de-duplicated root names referenced by its placeholders. Unparseable
// placeholders contribute nothing; the strict resolver rejects them at
// execution time.
func ExtractTemplateRefs(v any) []string {
	set := make(map[string]bool)
	collectRefs(v, set)
	refs := make([]string, 0, len(set))
	for r := range set {
		refs = append(refs, r)
	}
	sort.Strings(refs)
	return refs
}

func collectRefs(v any, set map[string]bool) {
	switch val := v.(type) {
	case string:
		for _, m := range placeholderRe.FindAllStringSubmatch(val, -1) {
			head := strings.TrimSpace(splitPipes(strings.TrimSpace(m[1]))[0])
			if head == "" {
				continue
			}
			if pathRe.MatchString(head) {
				set[strings.SplitN(head, ".", 2)[0]] = true
				continue
			}
			roots, err := rootIdentifiers(head)
			if err != nil {
				continue
			}
			for _, r := range roots {
				set[r] = true
			}
		}
	case map[string]any:
		for _, item := range val {
			collectRefs(item, set)
		}
	case []any:
		for _, item := range val {
			collectRefs(item, set)
		}
	}
}
