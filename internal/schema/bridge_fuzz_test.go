package schema

import (
	"encoding/json"
	"testing"
)

// FuzzCanonicalizeOutputSchemaIdempotent targets CanonicalizeOutputSchema for
// the idempotence invariant: canonicalizing an already-canonical schema must
// return it unchanged, across arbitrary JSON Schema shapes including ones
// that were never produced by BuildOutputSchema itself (hand-authored
// metadata sidecars from an older format revision).
func FuzzCanonicalizeOutputSchemaIdempotent(f *testing.F) {
	seeds := []string{
		`{"type":"string"}`,
		`{"type":"object","properties":{"result":{"type":"string"}},"required":["result"]}`,
		`{"type":"array","items":[{"type":"number"},{"type":"string"}]}`,
		`{"type":"object","properties":{"val0":{"type":"number"},"val1":{"type":"string"}}}`,
		`{}`,
		`null`,
		`{"type":"object"}`,
		`{"oneOf":[{"type":"string"},{"type":"null"}]}`,
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			t.Skip("not valid JSON")
		}
		schema, ok := toJSONObject(value)
		if !ok {
			t.Skip("top-level value is not a JSON object")
		}

		once := CanonicalizeOutputSchema(schema)
		twice := CanonicalizeOutputSchema(once)

		onceJSON, err := json.Marshal(once)
		if err != nil {
			t.Fatalf("marshal once: %v", err)
		}
		twiceJSON, err := json.Marshal(twice)
		if err != nil {
			t.Fatalf("marshal twice: %v", err)
		}
		if string(onceJSON) != string(twiceJSON) {
			t.Fatalf("canonicalization not idempotent: once=%s twice=%s", onceJSON, twiceJSON)
		}
	})
}

// toJSONObject narrows an any produced by encoding/json to the schema
// package's JSON type, reporting false when the top-level value is not an
// object. JSON is an alias of map[string]any, so no copy is needed.
func toJSONObject(v any) (JSON, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return JSON(m), true
}
