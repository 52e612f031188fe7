package schema

import (
	"testing"

	"github.com/duffney/wassette/internal/abi"
	"github.com/duffney/wassette/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addOneInputSchema(t *testing.T) JSON {
	t.Helper()
	s, err := BuildInputSchema([]abi.ParamJSON{
		{Name: "value", Type: abi.WitTypeJSON{Kind: abi.KindS32}},
	})
	require.NoError(t, err)
	return s
}

func TestValidateArgsAcceptsWellFormedArgs(t *testing.T) {
	err := ValidateArgs(addOneInputSchema(t), []byte(`{"value": 1}`))
	assert.NoError(t, err)
}

func TestValidateArgsRejectsEmptyObjectWhenFieldRequired(t *testing.T) {
	err := ValidateArgs(addOneInputSchema(t), []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidArguments)
	assert.Contains(t, err.Error(), "value")
}

func TestValidateArgsRejectsWrongType(t *testing.T) {
	err := ValidateArgs(addOneInputSchema(t), []byte(`{"value": "not-a-number"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidArguments)
}

func TestValidateArgsRejectsNonObjectTopLevel(t *testing.T) {
	err := ValidateArgs(addOneInputSchema(t), []byte(`[1,2,3]`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidArguments)
}

func TestValidateArgsRejectsMalformedJSON(t *testing.T) {
	err := ValidateArgs(addOneInputSchema(t), []byte(`{not json`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidArguments)
}

func TestValidateArgsTreatsEmptyBytesAsEmptyObject(t *testing.T) {
	schema, err := BuildInputSchema(nil)
	require.NoError(t, err)
	assert.NoError(t, ValidateArgs(schema, nil))
}

func TestValidateArgsRecursesIntoNestedRecords(t *testing.T) {
	inputSchema, err := BuildInputSchema([]abi.ParamJSON{
		{Name: "person", Type: abi.WitTypeJSON{
			Kind: abi.KindRecord,
			Fields: []abi.FieldJSON{
				{Name: "name", Type: abi.WitTypeJSON{Kind: abi.KindString}},
				{Name: "age", Type: abi.WitTypeJSON{Kind: abi.KindS32}},
			},
		}},
	})
	require.NoError(t, err)

	assert.NoError(t, ValidateArgs(inputSchema, []byte(`{"person": {"name": "a", "age": 1}}`)))

	err = ValidateArgs(inputSchema, []byte(`{"person": {"name": "a"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "age")

	err = ValidateArgs(inputSchema, []byte(`{"person": {"name": 1, "age": 1}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
}

func TestValidateArgsRecursesIntoArrayItems(t *testing.T) {
	inputSchema, err := BuildInputSchema([]abi.ParamJSON{
		{Name: "values", Type: abi.WitTypeJSON{Kind: abi.KindList, Elem: &abi.WitTypeJSON{Kind: abi.KindString}}},
	})
	require.NoError(t, err)

	assert.NoError(t, ValidateArgs(inputSchema, []byte(`{"values": ["a", "b"]}`)))

	err = ValidateArgs(inputSchema, []byte(`{"values": ["a", 2]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "values[1]")
}
