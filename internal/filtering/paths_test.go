package filtering

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathHelpers(t *testing.T) {
	root := map[string]interface{}{
		"a": map[string]interface{}{"b": 1, "c": "x"},
		"d": []interface{}{"e"},
	}

	v, ok := lookupPath(root, "a.b")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = lookupPath(root, "d.e")
	assert.False(t, ok, "arrays are not traversed")

	assert.False(t, removePath(root, "a.missing"))
	assert.True(t, removePath(root, "a.c"))
	assert.NotContains(t, root["a"], "c")

	assert.True(t, maskPath(root, "a.b", "***"))
	assert.Equal(t, "***", root["a"].(map[string]interface{})["b"])
}

func TestProject(t *testing.T) {
	root := map[string]interface{}{
		"a": map[string]interface{}{"b": 1, "c": 2},
		"z": true,
	}
	assert.Equal(t, map[string]interface{}{
		"a": map[string]interface{}{"c": 2},
		"z": true,
	}, project(root, []string{"a.c", "z", "nope.x"}))
}

func TestDeepCopyIsolatesContainers(t *testing.T) {
	src := map[string]interface{}{
		"nested": map[string]interface{}{"k": "v"},
		"list":   []interface{}{map[string]interface{}{"k": "v"}},
	}
	cp := deepCopy(src).(map[string]interface{})

	cp["nested"].(map[string]interface{})["k"] = "changed"
	cp["list"].([]interface{})[0].(map[string]interface{})["k"] = "changed"

	assert.Equal(t, "v", src["nested"].(map[string]interface{})["k"])
	assert.Equal(t, "v", src["list"].([]interface{})[0].(map[string]interface{})["k"])
}
