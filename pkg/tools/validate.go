package tools

import (
	"fmt"
)

// ValidateArgs checks args against a tool's parameter schema: required
// presence, primitive type, enum membership, and numeric bounds. It runs
// before every handler, so handlers can assume well-typed input.
func ValidateArgs(info ToolInfo, args Args) error {
	for _, p := range info.Parameters {
		v, present := args[p.Name]
		if !present || v == nil {
			if p.Required {
				return fmt.Errorf("%s is required", p.Name)
			}
			continue
		}
		if err := validateValue(p, v, args); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(p ToolParameter, v any, args Args) error {
	switch p.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s must be a string", p.Name)
		}
		if len(p.Enum) > 0 && !contains(p.Enum, s) {
			return fmt.Errorf("%s must be one of %v", p.Name, p.Enum)
		}
	case "number", "integer":
		f, ok := args.Float(p.Name)
		if !ok {
			return fmt.Errorf("%s must be a number", p.Name)
		}
		if p.Type == "integer" && f != float64(int64(f)) {
			return fmt.Errorf("%s must be an integer", p.Name)
		}
		if p.Minimum != nil && f < *p.Minimum {
			return fmt.Errorf("%s must be at least %g", p.Name, *p.Minimum)
		}
		if p.Maximum != nil && f > *p.Maximum {
			return fmt.Errorf("%s must be at most %g", p.Name, *p.Maximum)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%s must be a boolean", p.Name)
		}
	case "object":
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("%s must be an object", p.Name)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func ptr(f float64) *float64 { return &f }
