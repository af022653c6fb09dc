package filtering

import "strings"

// deepCopy clones the map and slice spine of a decoded JSON value. Leaves are shared.
func deepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}

// parent walks all but the last segment of path. ok is false when any step is
// missing or not an object.
func parent(root map[string]interface{}, path string) (map[string]interface{}, string, bool) {
	segments := strings.Split(path, ".")
	current := root
	for _, seg := range segments[:len(segments)-1] {
		next, ok := current[seg].(map[string]interface{})
		if !ok {
			return nil, "", false
		}
		current = next
	}
	return current, segments[len(segments)-1], true
}

func removePath(root map[string]interface{}, path string) bool {
	m, key, ok := parent(root, path)
	if !ok {
		return false
	}
	if _, exists := m[key]; !exists {
		return false
	}
	delete(m, key)
	return true
}

func maskPath(root map[string]interface{}, path, mask string) bool {
	m, key, ok := parent(root, path)
	if !ok {
		return false
	}
	if _, exists := m[key]; !exists {
		return false
	}
	m[key] = mask
	return true
}

func lookupPath(root map[string]interface{}, path string) (interface{}, bool) {
	m, key, ok := parent(root, path)
	if !ok {
		return nil, false
	}
	v, exists := m[key]
	return v, exists
}

func setPath(root map[string]interface{}, path string, value interface{}) {
	segments := strings.Split(path, ".")
	current := root
	for _, seg := range segments[:len(segments)-1] {
		next, ok := current[seg].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[seg] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}

// project keeps only the listed paths. Missing paths are ignored.
func project(root map[string]interface{}, paths []string) map[string]interface{} {
	out := make(map[string]interface{})
	for _, path := range paths {
		if v, ok := lookupPath(root, path); ok {
			setPath(out, path, v)
		}
	}
	return out
}
