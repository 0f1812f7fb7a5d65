package flow

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// literalAliases supplies the capitalized literal spellings workflow
// definitions commonly carry. A scope entry with the same name shadows the
// alias.
var literalAliases = map[string]any{
	"True":  true,
	"False": false,
	"None":  nil,
}

// withLiteralAliases returns scope extended with the literal aliases.
func withLiteralAliases(scope map[string]any) map[string]any {
	env := make(map[string]any, len(scope)+len(literalAliases))
	for k, v := range literalAliases {
		env[k] = v
	}
	for k, v := range scope {
		env[k] = v
	}
	return env
}

// SafeEval evaluates a condition expression against the run scope under a
// strict allowlist: literals, names, member and index access, comparisons,
// arithmetic, and boolean operators. Function calls, builtins, closures, and
// bindings are rejected before anything runs, and every root name must exist
// in the scope.
func SafeEval(src string, scope map[string]any) (any, error) {
	roots, err := checkExpr(src)
	if err != nil {
		return nil, err
	}
	env := withLiteralAliases(scope)
	for _, root := range roots {
		if _, ok := env[root]; !ok {
			return nil, fmt.Errorf("expression %q: undefined name %q", src, root)
		}
	}
	program, err := expr.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}
	return out, nil
}

// checkExpr parses the expression, enforces the allowlist, and returns the
// root names it references.
func checkExpr(src string) ([]string, error) {
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("expression %q: syntax error: %w", src, err)
	}
	v := &allowlistVisitor{roots: make(map[string]bool)}
	ast.Walk(&tree.Node, v)
	if v.err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, v.err)
	}
	roots := make([]string, 0, len(v.roots))
	for r := range v.roots {
		roots = append(roots, r)
	}
	return roots, nil
}

// rootIdentifiers returns the root names referenced by an expression without
// applying the condition allowlist; the template renderer uses it for strict
// name checking.
func rootIdentifiers(src string) ([]string, error) {
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("syntax error: %w", err)
	}
	v := &identVisitor{roots: make(map[string]bool)}
	ast.Walk(&tree.Node, v)
	roots := make([]string, 0, len(v.roots))
	for r := range v.roots {
		roots = append(roots, r)
	}
	return roots, nil
}

type identVisitor struct {
	roots map[string]bool
}

func (v *identVisitor) Visit(node *ast.Node) {
	if n, ok := (*node).(*ast.IdentifierNode); ok {
		v.roots[n.Value] = true
	}
}

type allowlistVisitor struct {
	err   error
	roots map[string]bool
}

func (v *allowlistVisitor) Visit(node *ast.Node) {
	if v.err != nil {
		return
	}
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		v.roots[n.Value] = true
	case *ast.MemberNode,
		*ast.ChainNode,
		*ast.UnaryNode,
		*ast.BinaryNode,
		*ast.ArrayNode,
		*ast.MapNode,
		*ast.PairNode,
		*ast.IntegerNode,
		*ast.FloatNode,
		*ast.BoolNode,
		*ast.StringNode,
		*ast.NilNode,
		*ast.ConstantNode:
		// allowed
	case *ast.CallNode:
		v.err = fmt.Errorf("function calls are not allowed")
	case *ast.BuiltinNode:
		v.err = fmt.Errorf("built-in functions are not allowed")
	case *ast.PredicateNode:
		v.err = fmt.Errorf("closures are not allowed")
	default:
		v.err = fmt.Errorf("disallowed construct %T", *node)
	}
}

// Truthy coerces any JSON value to a boolean the way conditions expect:
// nil, false, zero, empty string, and empty containers are false.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case float32:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
