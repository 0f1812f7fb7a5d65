package step

import "fmt"

func strField(cfg map[string]any, key string) string {
	v, _ := cfg[key].(string)
	return v
}

func requireStr(cfg map[string]any, key string) (string, error) {
	v := strField(cfg, key)
	if v == "" {
		return "", fmt.Errorf("config field %q is required", key)
	}
	return v, nil
}

func floatField(cfg map[string]any, key string) (float64, bool) {
	switch v := cfg[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func intField(cfg map[string]any, key string, def int) int {
	if v, ok := floatField(cfg, key); ok {
		return int(v)
	}
	return def
}

func mapField(cfg map[string]any, key string) map[string]any {
	v, _ := cfg[key].(map[string]any)
	return v
}

func listField(cfg map[string]any, key string) []any {
	v, _ := cfg[key].([]any)
	return v
}
