// Package schema bridges WIT-shaped value types and the canonical JSON
// Schema / structured-result conventions the tool surface exposes over MCP.
//
// The canonicalization and normalization algorithms are a direct port of the
// reference implementation's schema module: every exported function's
// result is represented, on the wire, as an object with a required "result"
// property, and arrays of positional results are packed into val0, val1, ...
// fields so clients always see a named, object-shaped payload.
package schema

import (
	"fmt"

	"github.com/duffney/wassette/internal/abi"
	"github.com/duffney/wassette/internal/errs"
)

// JSON is a parsed JSON Schema / JSON value, using the same loosely-typed
// representation encoding/json produces: map[string]any, []any, and
// primitives.
type JSON = map[string]any

// TypeToSchema maps a single WIT value type to its JSON Schema representation
// from the WIT-derived type descriptors.
func TypeToSchema(t abi.WitTypeJSON) (JSON, error) {
	switch {
	case t.Kind == abi.KindBool:
		return JSON{"type": "boolean"}, nil
	case t.Kind == abi.KindString:
		return JSON{"type": "string"}, nil
	case abi.IsNumeric(t.Kind):
		return JSON{"type": "number"}, nil
	case t.Kind == abi.KindList:
		if t.Elem == nil {
			return nil, fmt.Errorf("%w: list missing elem type", errs.ErrUnsupportedType)
		}
		items, err := TypeToSchema(*t.Elem)
		if err != nil {
			return nil, err
		}
		return JSON{"type": "array", "items": items}, nil
	case t.Kind == abi.KindTuple:
		items := make([]any, 0, len(t.Elems))
		props := JSON{}
		required := make([]any, 0, len(t.Elems))
		for i, elem := range t.Elems {
			s, err := TypeToSchema(elem)
			if err != nil {
				return nil, err
			}
			key := fmt.Sprintf("val%d", i)
			props[key] = s
			required = append(required, key)
			items = append(items, s)
		}
		return JSON{"type": "object", "properties": props, "required": required}, nil
	case t.Kind == abi.KindRecord:
		props := JSON{}
		required := make([]any, 0, len(t.Fields))
		for _, f := range t.Fields {
			s, err := TypeToSchema(f.Type)
			if err != nil {
				return nil, err
			}
			props[f.Name] = s
			if !f.Optional {
				required = append(required, f.Name)
			}
		}
		out := JSON{"type": "object", "properties": props}
		if len(required) > 0 {
			out["required"] = required
		}
		return out, nil
	case t.Kind == abi.KindVariant || t.Kind == abi.KindEnum:
		oneOf := make([]any, 0, len(t.Cases))
		for _, c := range t.Cases {
			if c.Type == nil {
				oneOf = append(oneOf, JSON{"type": "object", "properties": JSON{c.Name: JSON{"type": "null"}}, "required": []any{c.Name}})
				continue
			}
			s, err := TypeToSchema(*c.Type)
			if err != nil {
				return nil, err
			}
			oneOf = append(oneOf, JSON{"type": "object", "properties": JSON{c.Name: s}, "required": []any{c.Name}})
		}
		return JSON{"oneOf": oneOf}, nil
	case t.Kind == abi.KindOption:
		if t.Inner == nil {
			return nil, fmt.Errorf("%w: option missing inner type", errs.ErrUnsupportedType)
		}
		inner, err := TypeToSchema(*t.Inner)
		if err != nil {
			return nil, err
		}
		return JSON{"oneOf": []any{inner, JSON{"type": "null"}}}, nil
	case t.Kind == abi.KindResult:
		props := JSON{}
		if t.Ok != nil {
			ok, err := TypeToSchema(*t.Ok)
			if err != nil {
				return nil, err
			}
			props["ok"] = ok
		} else {
			props["ok"] = JSON{"type": "null"}
		}
		if t.Err != nil {
			e, err := TypeToSchema(*t.Err)
			if err != nil {
				return nil, err
			}
			props["err"] = e
		} else {
			props["err"] = JSON{"type": "null"}
		}
		return JSON{"oneOf": []any{
			JSON{"type": "object", "properties": JSON{"ok": props["ok"]}, "required": []any{"ok"}},
			JSON{"type": "object", "properties": JSON{"err": props["err"]}, "required": []any{"err"}},
		}}, nil
	case t.Kind == abi.KindResource:
		return JSON{"type": "integer"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errs.ErrUnsupportedType, t.Kind)
	}
}

// BuildInputSchema builds the object schema for a function's parameter list.
func BuildInputSchema(params []abi.ParamJSON) (JSON, error) {
	props := JSON{}
	required := make([]any, 0, len(params))
	for _, p := range params {
		s, err := TypeToSchema(p.Type)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		props[p.Name] = s
		required = append(required, p.Name)
	}
	out := JSON{"type": "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	return out, nil
}

// BuildOutputSchema builds the canonical, envelope-wrapped output schema for
// a function's result list. ok is false when the function returns nothing,
// in which case callers should omit the output schema entirely.
func BuildOutputSchema(results []abi.WitTypeJSON) (schema JSON, ok bool, err error) {
	switch len(results) {
	case 0:
		return nil, false, nil
	case 1:
		inner, terr := TypeToSchema(results[0])
		if terr != nil {
			return nil, false, terr
		}
		return CanonicalizeOutputSchema(wrapSchemaInResult(inner)), true, nil
	default:
		tuple := make([]abi.WitTypeJSON, len(results))
		copy(tuple, results)
		inner, terr := TypeToSchema(abi.WitTypeJSON{Kind: abi.KindTuple, Elems: tuple})
		if terr != nil {
			return nil, false, terr
		}
		return CanonicalizeOutputSchema(wrapSchemaInResult(inner)), true, nil
	}
}

// CanonicalizeOutputSchema ensures schema always represents structured data
// as an object with a required "result" property. Ported function-for-function
// from the reference implementation's canonicalize_output_schema.
func CanonicalizeOutputSchema(schema JSON) JSON {
	if schema == nil {
		return wrapSchemaInResult(nil)
	}
	if typeOf(schema) == "object" {
		if resultSchema, has := extractResultSchema(schema); has {
			outer := cloneMap(schema)
			props, _ := outer["properties"].(JSON)
			if props == nil {
				props = JSON{}
			} else {
				props = cloneMap(props)
			}
			props["result"] = canonicalizeResultSchema(resultSchema)
			outer["properties"] = props
			return ensureResultRequired(outer)
		}
		return wrapSchemaInResult(canonicalizeResultSchema(schema))
	}
	return wrapSchemaInResult(canonicalizeResultSchema(schema))
}

// EnsureStructuredResult normalizes a guest-produced result value to match
// the canonical schema form. Ported from ensure_structured_result.
func EnsureStructuredResult(schema JSON, value any) any {
	resultSchema, has := extractResultSchema(schema)
	if !has {
		return value
	}

	if obj, isObj := value.(JSON); isObj {
		if resultValue, present := obj["result"]; present {
			clone := cloneMap(obj)
			clone["result"] = normalizeResultValue(resultSchema, resultValue)
			return clone
		}
		normalized := normalizeResultValue(resultSchema, obj)
		return JSON{"result": normalized}
	}
	normalized := normalizeResultValue(resultSchema, value)
	return JSON{"result": normalized}
}

func wrapSchemaInResult(inner JSON) JSON {
	return buildResultWrapper(inner)
}

func buildResultWrapper(resultSchema JSON) JSON {
	return JSON{
		"type":       "object",
		"properties": JSON{"result": resultSchema},
		"required":   []any{"result"},
	}
}

func canonicalizeResultSchema(schema JSON) JSON {
	if typeOf(schema) == "array" {
		if items, ok := schema["items"]; ok {
			if itemsArr, isArr := items.([]any); isArr {
				return tupleItemsToObjectSchema(itemsArr)
			}
		}
	}
	if typeOf(schema) == "object" {
		normalized := cloneMap(schema)
		if props, ok := schema["properties"].(JSON); ok {
			newProps := JSON{}
			for k, v := range props {
				if vm, isMap := v.(JSON); isMap {
					newProps[k] = canonicalizeResultSchema(vm)
				} else {
					newProps[k] = v
				}
			}
			normalized["properties"] = newProps
		}
		return normalized
	}
	return schema
}

func tupleItemsToObjectSchema(items []any) JSON {
	props := JSON{}
	required := make([]any, 0, len(items))
	for idx, item := range items {
		key := fmt.Sprintf("val%d", idx)
		if m, ok := item.(JSON); ok {
			props[key] = canonicalizeResultSchema(m)
		} else {
			props[key] = item
		}
		required = append(required, key)
	}
	return JSON{"type": "object", "properties": props, "required": required}
}

func extractResultSchema(schema JSON) (JSON, bool) {
	props, ok := schema["properties"].(JSON)
	if !ok {
		return nil, false
	}
	result, ok := props["result"].(JSON)
	if !ok {
		return nil, false
	}
	return result, true
}

func ensureResultRequired(outer JSON) JSON {
	var required []any
	if r, ok := outer["required"].([]any); ok {
		required = append([]any{}, r...)
	}
	has := false
	for _, r := range required {
		if s, ok := r.(string); ok && s == "result" {
			has = true
			break
		}
	}
	if !has {
		required = append(required, "result")
	}
	outer["required"] = required
	return outer
}

func normalizeResultValue(schema JSON, value any) any {
	switch typeOf(schema) {
	case "object":
		props, ok := schema["properties"].(JSON)
		if !ok {
			return value
		}
		if allValKeys(props) {
			switch v := value.(type) {
			case []any:
				m := JSON{}
				for idx, item := range v {
					m[fmt.Sprintf("val%d", idx)] = item
				}
				return m
			case JSON:
				return v
			default:
				return JSON{"val0": v}
			}
		}
		obj, ok := value.(JSON)
		if !ok {
			return value
		}
		remaining := cloneMap(obj)
		normalized := JSON{}
		for key, propSchema := range props {
			if val, present := remaining[key]; present {
				if ps, isMap := propSchema.(JSON); isMap {
					normalized[key] = normalizeResultValue(ps, val)
				} else {
					normalized[key] = val
				}
				delete(remaining, key)
			} else {
				normalized[key] = nil
			}
		}
		for k, v := range remaining {
			normalized[k] = v
		}
		return normalized
	case "array":
		obj, ok := value.(JSON)
		if ok && looksLikeTupleKeys(obj) {
			arr := make([]any, 0, len(obj))
			idx := 0
			for {
				v, present := obj[fmt.Sprintf("val%d", idx)]
				if !present {
					break
				}
				arr = append(arr, v)
				idx++
			}
			return arr
		}
		return value
	default:
		return value
	}
}

func looksLikeTupleKeys(m JSON) bool {
	if len(m) == 0 {
		return false
	}
	idx := 0
	for {
		if _, ok := m[fmt.Sprintf("val%d", idx)]; !ok {
			break
		}
		idx++
	}
	return idx > 0 && len(m) == idx
}

func allValKeys(props JSON) bool {
	for k := range props {
		if len(k) < 3 || k[:3] != "val" {
			return false
		}
	}
	return true
}

func typeOf(schema JSON) string {
	t, _ := schema["type"].(string)
	return t
}

func cloneMap(m JSON) JSON {
	out := make(JSON, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
