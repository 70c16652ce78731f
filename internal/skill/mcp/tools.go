package mcp

import (
	"fmt"
)

// GenerateToolSchema builds the input schema of a skill tool. Every skill
// accepts free-form args and context objects; params adds typed properties.
func GenerateToolSchema(params map[string]interface{}, required ...string) map[string]interface{} {
	props := map[string]interface{}{
		"args": map[string]interface{}{
			"type":        "object",
			"description": "Arguments passed to the skill entry point",
		},
		"context": map[string]interface{}{
			"type":        "object",
			"description": "Execution context passed alongside the arguments",
		},
	}
	for k, v := range params {
		props[k] = v
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ValidateToolCall validates a tool call against its schema
func ValidateToolCall(tool Tool, call ToolCallParams) error {
	if call.Name != tool.Name {
		return fmt.Errorf("tool name mismatch: expected %s, got %s", tool.Name, call.Name)
	}

	for _, field := range requiredFields(tool.InputSchema["required"]) {
		if _, exists := call.Arguments[field]; !exists {
			return fmt.Errorf("required field missing: %s", field)
		}
	}

	props, ok := tool.InputSchema["properties"].(map[string]interface{})
	if !ok {
		return nil
	}
	for fieldName, fieldValue := range call.Arguments {
		fieldDef, ok := props[fieldName].(map[string]interface{})
		if !ok {
			continue
		}
		expectedType, ok := fieldDef["type"].(string)
		if !ok {
			continue
		}
		actualType := getJSONType(fieldValue)
		if expectedType == "integer" && actualType == "number" {
			continue
		}
		if expectedType != actualType {
			return fmt.Errorf("type mismatch for field %s: expected %s, got %s", fieldName, expectedType, actualType)
		}
	}

	return nil
}

// requiredFields accepts both a schema built in Go and one decoded from JSON
func requiredFields(v interface{}) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []interface{}:
		out := make([]string, 0, len(r))
		for _, f := range r {
			if s, ok := f.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// getJSONType returns the JSON type of a value
func getJSONType(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, float32, int, int64, int32:
		return "number"
	case bool:
		return "boolean"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}
