package records

import (
	"fmt"
	"strconv"
	"strings"
)

// flattenProperties reduces the store's typed property payloads to plain
// strings so steps can read record fields without knowing the wire schema.
func flattenProperties(properties map[string]any) map[string]string {
	fields := make(map[string]string, len(properties))
	for name, value := range properties {
		if flat := flattenProperty(value); flat != "" {
			fields[name] = flat
		}
	}
	return fields
}

func flattenProperty(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if flat := flattenProperty(item); flat != "" {
				parts = append(parts, flat)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		return flattenObject(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func flattenObject(obj map[string]any) string {
	// Rich-text fragments carry their rendered form in plain_text.
	if text, ok := obj["plain_text"].(string); ok {
		return strings.TrimSpace(text)
	}
	// Typed property wrappers nest the payload under the type name.
	if kind, ok := obj["type"].(string); ok {
		if inner, exists := obj[kind]; exists {
			return flattenProperty(inner)
		}
	}
	// Select, status, and relation options carry a name or id.
	if name, ok := obj["name"].(string); ok {
		return strings.TrimSpace(name)
	}
	// Dates carry start (and optionally end).
	if start, ok := obj["start"].(string); ok {
		if end, exists := obj["end"].(string); exists && end != "" {
			return start + "/" + end
		}
		return start
	}
	if content, ok := obj["content"].(string); ok {
		return strings.TrimSpace(content)
	}
	if id, ok := obj["id"].(string); ok {
		return strings.TrimSpace(id)
	}
	return ""
}
