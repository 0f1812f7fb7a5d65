package step

import (
	"context"
	"fmt"
)

// TransformHandler reshapes context data. Its mapping arrives already
// template-resolved, so execution is a straight copy of the mapping into the
// step output.
type TransformHandler struct{}

func (TransformHandler) Metadata() Metadata {
	return Metadata{
		Label:       "Transform",
		Description: "Build a new object from templated fields",
		ConfigSchema: map[string]any{
			"mapping": map[string]any{"type": "object", "required": true},
		},
	}
}

func (TransformHandler) Execute(_ context.Context, config, _ map[string]any) (map[string]any, error) {
	mapping := mapField(config, "mapping")
	if mapping == nil {
		return nil, NonRetriable(fmt.Errorf("config field \"mapping\" is required"))
	}
	out := make(map[string]any, len(mapping))
	for k, v := range mapping {
		out[k] = v
	}
	return out, nil
}
