package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string  `json:"name"`
	X     float64 `json:"x"`
	Count int64   `json:"count"`
}

func TestConvertStructToTree(t *testing.T) {
	var tree any
	require.NoError(t, Convert(sample{Name: "a", X: 1.5, Count: 3}, &tree))

	m, ok := tree.(map[string]any)
	require.True(t, ok, "expected map[string]any, got %T", tree)
	assert.Equal(t, "a", m["name"])
	assert.Equal(t, 1.5, m["x"])
	assert.Equal(t, int64(3), m["count"])
}

func TestConvertTreeToStruct(t *testing.T) {
	var s sample
	require.NoError(t, Convert(map[string]any{"name": "b", "x": 2.0, "count": uint64(7)}, &s))
	assert.Equal(t, sample{Name: "b", X: 2, Count: 7}, s)
}

func TestEncoderDecoder(t *testing.T) {
	var c CBOR
	buf := &bytes.Buffer{}
	require.NoError(t, c.NewEncoder(buf).Encode(map[string]any{"k": "v"}))

	var out map[string]any
	require.NoError(t, c.NewDecoder(buf).Decode(&out))
	assert.Equal(t, map[string]any{"k": "v"}, out)
}

func TestMarshalIsDeterministic(t *testing.T) {
	var c CBOR
	a, err := c.Marshal(map[string]any{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)
	b, err := c.Marshal(map[string]any{"c": 3, "a": 2, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
