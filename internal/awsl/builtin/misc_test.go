package builtin_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madmag77/bpmn-workflows/internal/awsl/builtin"
	"github.com/madmag77/bpmn-workflows/internal/awsl/node"
)

func TestEchoCopiesInputsToOutputs(t *testing.T) {
	out, err := builtin.Echo(context.Background(), map[string]any{"a": 1, "b": "two"}, node.Config{})
	require.NoError(t, err)
	assert.Equal(t, 1, out["a"])
	assert.Equal(t, "two", out["b"])
}

func TestJSONParseParsesObject(t *testing.T) {
	out, err := builtin.JSONParse(context.Background(), map[string]any{"input": `{"x":1}`}, node.Config{})
	require.NoError(t, err)
	parsed, ok := out["output"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), parsed["x"])
}

func TestJSONParseMissingInputErrors(t *testing.T) {
	_, err := builtin.JSONParse(context.Background(), map[string]any{}, node.Config{})
	require.Error(t, err)
}

func TestJSONParseInvalidJSONErrors(t *testing.T) {
	_, err := builtin.JSONParse(context.Background(), map[string]any{"input": `not json`}, node.Config{})
	require.Error(t, err)
}
