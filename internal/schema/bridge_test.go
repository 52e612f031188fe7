package schema

import (
	"testing"

	"github.com/duffney/wassette/internal/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeToSchemaPrimitives(t *testing.T) {
	cases := []struct {
		kind string
		want JSON
	}{
		{abi.KindBool, JSON{"type": "boolean"}},
		{abi.KindString, JSON{"type": "string"}},
		{abi.KindS32, JSON{"type": "number"}},
		{abi.KindFloat64, JSON{"type": "number"}},
	}
	for _, c := range cases {
		got, err := TypeToSchema(abi.WitTypeJSON{Kind: c.kind})
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestTypeToSchemaList(t *testing.T) {
	got, err := TypeToSchema(abi.WitTypeJSON{Kind: abi.KindList, Elem: &abi.WitTypeJSON{Kind: abi.KindString}})
	require.NoError(t, err)
	assert.Equal(t, JSON{"type": "array", "items": JSON{"type": "string"}}, got)
}

func TestTypeToSchemaRecordRequiredFields(t *testing.T) {
	got, err := TypeToSchema(abi.WitTypeJSON{
		Kind: abi.KindRecord,
		Fields: []abi.FieldJSON{
			{Name: "a", Type: abi.WitTypeJSON{Kind: abi.KindString}},
			{Name: "b", Type: abi.WitTypeJSON{Kind: abi.KindS32}, Optional: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "object", got["type"])
	assert.ElementsMatch(t, []any{"a"}, got["required"])
}

func TestBuildOutputSchemaSingleValue(t *testing.T) {
	schema, ok, err := BuildOutputSchema([]abi.WitTypeJSON{{Kind: abi.KindString}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "object", schema["type"])
	props := schema["properties"].(JSON)
	assert.Equal(t, JSON{"type": "string"}, props["result"])
	assert.Contains(t, schema["required"], "result")
}

func TestBuildOutputSchemaNoResults(t *testing.T) {
	_, ok, err := BuildOutputSchema(nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildOutputSchemaMultiValuePacksTuple(t *testing.T) {
	schema, ok, err := BuildOutputSchema([]abi.WitTypeJSON{{Kind: abi.KindS32}, {Kind: abi.KindString}})
	require.NoError(t, err)
	require.True(t, ok)
	props := schema["properties"].(JSON)
	result := props["result"].(JSON)
	resultProps := result["properties"].(JSON)
	assert.Contains(t, resultProps, "val0")
	assert.Contains(t, resultProps, "val1")
}

func TestCanonicalizeOutputSchemaIsIdempotent(t *testing.T) {
	schema := JSON{"type": "array", "items": []any{JSON{"type": "string"}, JSON{"type": "number"}}}
	once := CanonicalizeOutputSchema(schema)
	twice := CanonicalizeOutputSchema(once)
	assert.Equal(t, once, twice)
}

func TestEnsureStructuredResultWrapsBareValue(t *testing.T) {
	schema := CanonicalizeOutputSchema(JSON{"type": "string"})
	got := EnsureStructuredResult(schema, "hello")
	assert.Equal(t, JSON{"result": "hello"}, got)
}

func TestEnsureStructuredResultPacksTupleArray(t *testing.T) {
	schema, _, err := BuildOutputSchema([]abi.WitTypeJSON{{Kind: abi.KindS32}, {Kind: abi.KindString}})
	require.NoError(t, err)
	got := EnsureStructuredResult(schema, JSON{"result": []any{float64(1), "two"}})
	result := got.(JSON)["result"].(JSON)
	assert.Equal(t, float64(1), result["val0"])
	assert.Equal(t, "two", result["val1"])
}

func TestValidateAcceptsGeneratedSchema(t *testing.T) {
	schema, ok, err := BuildOutputSchema([]abi.WitTypeJSON{{Kind: abi.KindBool}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.NoError(t, Validate(schema))
}

func TestTypeToSchemaUnsupportedKind(t *testing.T) {
	_, err := TypeToSchema(abi.WitTypeJSON{Kind: "nonsense"})
	assert.Error(t, err)
}
