package schema

import (
	"encoding/json"
	"fmt"

	"github.com/duffney/wassette/internal/errs"
)

// ValidateArgs checks rawArgs against inputSchema (as built by
// BuildInputSchema) before a guest export ever sees them: every required
// property must be present and every typed value must match its declared
// JSON Schema type. An empty rawArgs is treated as an empty object, which
// passes only for a schema with no required properties. On the first
// mismatch it returns an error wrapping errs.ErrInvalidArguments that names
// the offending property path and the expected shape.
func ValidateArgs(inputSchema JSON, rawArgs []byte) error {
	var args any = JSON{}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return fmt.Errorf("%w: %s: %v", errs.ErrInvalidArguments, rootPath, err)
		}
	}
	return validateAgainstSchema(rootPath, inputSchema, args)
}

const rootPath = "<root>"

func validateAgainstSchema(path string, s JSON, value any) error {
	if s == nil {
		return nil
	}

	if oneOf, ok := s["oneOf"].([]any); ok {
		for _, alt := range oneOf {
			altSchema, ok := alt.(JSON)
			if !ok {
				continue
			}
			if validateAgainstSchema(path, altSchema, value) == nil {
				return nil
			}
		}
		return fmt.Errorf("%w: %s: expected one of the allowed shapes", errs.ErrInvalidArguments, path)
	}

	switch typeOf(s) {
	case "object":
		obj, ok := value.(JSON)
		if !ok {
			return fmt.Errorf("%w: %s: expected object, got %s", errs.ErrInvalidArguments, path, goType(value))
		}
		for _, req := range requiredOf(s) {
			if _, present := obj[req]; !present {
				return fmt.Errorf("%w: %s: missing required field %q", errs.ErrInvalidArguments, path, req)
			}
		}
		props, _ := s["properties"].(JSON)
		for key, propSchema := range props {
			v, present := obj[key]
			if !present {
				continue
			}
			ps, ok := propSchema.(JSON)
			if !ok {
				continue
			}
			if err := validateAgainstSchema(childPath(path, key), ps, v); err != nil {
				return err
			}
		}
		return nil
	case "array":
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("%w: %s: expected array, got %s", errs.ErrInvalidArguments, path, goType(value))
		}
		items, _ := s["items"].(JSON)
		if items != nil {
			for i, v := range arr {
				if err := validateAgainstSchema(fmt.Sprintf("%s[%d]", path, i), items, v); err != nil {
					return err
				}
			}
		}
		return nil
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%w: %s: expected string, got %s", errs.ErrInvalidArguments, path, goType(value))
		}
		return nil
	case "number":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("%w: %s: expected number, got %s", errs.ErrInvalidArguments, path, goType(value))
		}
		return nil
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%w: %s: expected boolean, got %s", errs.ErrInvalidArguments, path, goType(value))
		}
		return nil
	case "null":
		if value != nil {
			return fmt.Errorf("%w: %s: expected null, got %s", errs.ErrInvalidArguments, path, goType(value))
		}
		return nil
	default:
		return nil
	}
}

func requiredOf(s JSON) []string {
	raw, ok := s["required"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if str, ok := r.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

func childPath(path, key string) string {
	if path == rootPath {
		return key
	}
	return path + "." + key
}

func goType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case JSON:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}
