package step

import (
	"context"
	"fmt"
)

// ForEachHandler is the passthrough form of for_each: with no per-item
// handler configured the engine resolves the items and this handler simply
// reports them. Fan-out over a nested handler is driven by the engine.
type ForEachHandler struct{}

func (ForEachHandler) Metadata() Metadata {
	return Metadata{
		Label:       "For Each",
		Description: "Fan out over a list of items",
		ConfigSchema: map[string]any{
			"items":        map[string]any{"type": "array", "required": true},
			"handler":      map[string]any{"type": "string"},
			"item_config":  map[string]any{"type": "object"},
			"max_parallel": map[string]any{"type": "number", "default": 1},
		},
	}
}

func (ForEachHandler) Execute(_ context.Context, config, _ map[string]any) (map[string]any, error) {
	items, ok := config["items"].([]any)
	if !ok {
		return nil, NonRetriable(fmt.Errorf("config field \"items\" must resolve to a list"))
	}
	return map[string]any{
		"items":   items,
		"count":   len(items),
		"results": []any{},
	}, nil
}
