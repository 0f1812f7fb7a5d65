package step

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
)

// InlineExprHandler evaluates a sandboxed expression over named inputs.
// The expression runs inside the expr VM with no host functions exposed, so
// a workflow author can compute derived values without arbitrary code
// execution.
type InlineExprHandler struct{}

func (InlineExprHandler) Metadata() Metadata {
	return Metadata{
		Label:       "Inline Expression",
		Description: "Evaluate a sandboxed expression over named inputs",
		ConfigSchema: map[string]any{
			"expression": map[string]any{"type": "string", "required": true},
			"input_vars": map[string]any{"type": "object"},
		},
	}
}

func (InlineExprHandler) Execute(_ context.Context, config, _ map[string]any) (map[string]any, error) {
	src, err := requireStr(config, "expression")
	if err != nil {
		return nil, NonRetriable(err)
	}

	env := make(map[string]any)
	for k, v := range mapField(config, "input_vars") {
		env[k] = v
	}

	program, err := expr.Compile(src)
	if err != nil {
		return nil, NonRetriable(fmt.Errorf("compile expression: %w", err))
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression: %w", err)
	}
	return map[string]any{"result": out}, nil
}
