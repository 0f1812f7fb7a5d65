package step

import (
	"context"
	"fmt"
	"time"
)

// DelayHandler sleeps for a configured number of seconds, honoring context
// cancellation.
type DelayHandler struct{}

func (DelayHandler) Metadata() Metadata {
	return Metadata{
		Label:       "Delay",
		Description: "Pause execution for a fixed number of seconds",
		ConfigSchema: map[string]any{
			"seconds": map[string]any{"type": "number", "required": true},
		},
	}
}

func (DelayHandler) Execute(ctx context.Context, config, _ map[string]any) (map[string]any, error) {
	seconds, ok := floatField(config, "seconds")
	if !ok || seconds < 0 {
		return nil, NonRetriable(fmt.Errorf("config field \"seconds\" must be a non-negative number"))
	}

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return map[string]any{"delayed_seconds": seconds}, nil
}
