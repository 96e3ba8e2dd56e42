// Package template renders expressions in workflow definitions against the
// live execution context: run state, params, step outputs and matrix values.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// Render evaluates a Go text/template expression against the given data and
// coerces the result: JSON-looking output is decoded, numeric and boolean
// strings are parsed, everything else stays a string.
func Render(input string, data map[string]any) (any, error) {
	tmpl, err := template.
		New("expression").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"json": func(v any) (string, error) {
				encoded, err := json.Marshal(v)

				return string(encoded), err
			},
		}).Parse(input)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %q: %w", input, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template %q: %w", input, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var decoded any

		if err := json.Unmarshal([]byte(result), &decoded); err == nil {
			return decoded, nil
		}
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// RenderString renders an expression and stringifies the result.
func RenderString(input string, data map[string]any) (string, error) {
	rendered, err := Render(input, data)
	if err != nil {
		return "", err
	}

	switch v := rendered.(type) {
	case string:
		return v, nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// RenderMap renders every string value of the map, leaving other values as-is.
func RenderMap(in map[string]string, data map[string]any) (map[string]string, error) {
	if in == nil {
		return nil, nil
	}

	out := make(map[string]string, len(in))

	for key, value := range in {
		rendered, err := RenderString(value, data)
		if err != nil {
			return nil, err
		}

		out[key] = rendered
	}

	return out, nil
}
