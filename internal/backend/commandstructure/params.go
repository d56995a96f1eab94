package commandstructure

import (
	"fmt"
	"strings"
)

// Params decoded from YAML arrive as int, float64 or string depending on
// how they were written; the getters accept all of them.

func GetStringParam(params map[string]any, key string, defaultValue string) string {
	if s, ok := params[key].(string); ok {
		return s
	}
	return defaultValue
}

func GetIntParam(params map[string]any, key string, defaultValue int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return defaultValue
}

func GetFloatParam(params map[string]any, key string, defaultValue float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return defaultValue
}

// GetBoolParam accepts YAML booleans and the strings true/false/yes/no/on/off.
func GetBoolParam(params map[string]any, key string, defaultValue bool) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "on", "1":
			return true
		case "false", "no", "off", "0":
			return false
		}
	}
	return defaultValue
}

// ValidateRequiredParams checks that every key is present.
func ValidateRequiredParams(params map[string]any, required []string) error {
	for _, key := range required {
		if _, ok := params[key]; !ok {
			return fmt.Errorf("missing required parameter: %s", key)
		}
	}
	return nil
}
