// Package models provides conditional expression evaluation for node and step gating.
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Truthy converts the rendered result of an `if` expression to a boolean.
// Nil and the empty string count as true so that an absent conditional never
// suppresses execution; everything else follows shell-like truthiness.
func Truthy(exp any) (bool, error) {
	if exp == nil {
		return true, nil
	}

	switch v := exp.(type) {
	case bool:
		return v, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return true, nil
		}

		result, err := strconv.ParseBool(trimmed)
		if err != nil {
			return false, fmt.Errorf("cannot convert string %q to boolean: %w", v, err)
		}

		return result, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", exp)
	}
}
