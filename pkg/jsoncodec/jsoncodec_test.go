package jsoncodec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalNumber_KeepsLargeIntegers(t *testing.T) {
	var v map[string]interface{}
	require.NoError(t, UnmarshalNumber([]byte(`{"id":12345678901234567890}`), &v))
	assert.Equal(t, json.Number("12345678901234567890"), v["id"])

	var plain map[string]interface{}
	require.NoError(t, Unmarshal([]byte(`{"id":1}`), &plain))
	assert.Equal(t, float64(1), plain["id"])
}

func TestMarshalIndent(t *testing.T) {
	out, err := MarshalIndent(map[string]int{"a": 1}, "", "  ")
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}", string(out))
	assert.True(t, Valid(out))
}
