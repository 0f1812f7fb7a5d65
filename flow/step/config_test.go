package step

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFieldHelpers(t *testing.T) {
	cfg := map[string]any{
		"name":    "fetch",
		"blank":   "",
		"ratio":   0.5,
		"retries": 3,
		"big":     int64(9),
		"opts":    map[string]any{"k": "v"},
		"tags":    []any{"a", "b"},
	}

	assert.Equal(t, "fetch", strField(cfg, "name"))
	assert.Equal(t, "", strField(cfg, "missing"))
	assert.Equal(t, "", strField(cfg, "ratio"), "non-string reads as empty")

	v, err := requireStr(cfg, "name")
	require.NoError(t, err)
	assert.Equal(t, "fetch", v)
	_, err = requireStr(cfg, "blank")
	assert.Error(t, err, "empty string does not satisfy a required field")
	_, err = requireStr(cfg, "missing")
	assert.Error(t, err)

	f, ok := floatField(cfg, "ratio")
	require.True(t, ok)
	assert.Equal(t, 0.5, f)
	f, ok = floatField(cfg, "retries")
	require.True(t, ok, "ints coerce")
	assert.Equal(t, 3.0, f)
	f, ok = floatField(cfg, "big")
	require.True(t, ok)
	assert.Equal(t, 9.0, f)
	_, ok = floatField(cfg, "name")
	assert.False(t, ok)

	assert.Equal(t, 3, intField(cfg, "retries", 1))
	assert.Equal(t, 7, intField(cfg, "missing", 7))

	require.NotNil(t, mapField(cfg, "opts"))
	assert.Nil(t, mapField(cfg, "tags"))
	require.Len(t, listField(cfg, "tags"), 2)
	assert.Nil(t, listField(cfg, "opts"))
}
