package tools

import (
	"fmt"
	"strconv"

	"github.com/brandon/mailkan/internal/email"
)

func stringParam(params map[string]interface{}, name string) string {
	s, _ := params[name].(string)
	return s
}

func requiredString(params map[string]interface{}, name string) (string, error) {
	s := stringParam(params, name)
	if s == "" {
		return "", &email.ValidationError{Field: name, Message: "is required"}
	}
	return s, nil
}

// boolParam accepts JSON booleans and the strings "true"/"false"
func boolParam(params map[string]interface{}, name string) (bool, error) {
	switch v := params[name].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, &email.ValidationError{Field: name, Message: "must be a boolean"}
		}
		return b, nil
	default:
		return false, &email.ValidationError{Field: name, Message: "must be a boolean"}
	}
}

// uidParam accepts a JSON number or a numeric string
func uidParam(params map[string]interface{}, name string) (uint32, error) {
	var n int64
	switch v := params[name].(type) {
	case nil:
		return 0, &email.ValidationError{Field: name, Message: "is required"}
	case float64:
		if v != float64(int64(v)) {
			return 0, &email.ValidationError{Field: name, Message: "must be an integer"}
		}
		n = int64(v)
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, &email.ValidationError{Field: name, Message: "must be an integer"}
		}
		n = parsed
	default:
		return 0, &email.ValidationError{Field: name, Message: fmt.Sprintf("unexpected type %T", v)}
	}
	if n <= 0 || n > 1<<32-1 {
		return 0, &email.ValidationError{Field: name, Message: "must be a positive number"}
	}
	return uint32(n), nil
}

func intParam(params map[string]interface{}, name string, def int) int {
	if v, ok := params[name].(float64); ok {
		return int(v)
	}
	if s, ok := params[name].(string); ok {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return def
}

func stringList(params map[string]interface{}, name string) []string {
	raw, _ := params[name].([]interface{})
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func columnProperty(columns []string, description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"enum":        columns,
		"description": description,
	}
}

var forceRefreshProperty = map[string]interface{}{
	"type":        "boolean",
	"description": "Optional: Bypass the folder cache",
}
