// Package abi defines the JSON wire contract components use to describe
// their exported functions to the host. These types must remain stable and
// backward compatible, since they define the boundary between a guest
// component and the schema bridge.
//
// A component exposes this contract through a single exported function,
// named "describe", returning a packed
// ptr<<32|len pointing at a UTF-8 JSON array of FunctionDescriptor.
package abi

// WitTypeJSON is the wire form of a WIT value type. Only one of the
// kind-specific fields is populated, selected by Kind.
type WitTypeJSON struct {
	Kind string `json:"kind"`

	// list
	Elem *WitTypeJSON `json:"elem,omitempty"`

	// record
	Fields []FieldJSON `json:"fields,omitempty"`

	// tuple
	Elems []WitTypeJSON `json:"elems,omitempty"`

	// variant / enum
	Cases []CaseJSON `json:"cases,omitempty"`

	// option
	Inner *WitTypeJSON `json:"inner,omitempty"`

	// result
	Ok  *WitTypeJSON `json:"ok,omitempty"`
	Err *WitTypeJSON `json:"err,omitempty"`
}

// FieldJSON is one field of a WIT record.
type FieldJSON struct {
	Name     string      `json:"name"`
	Type     WitTypeJSON `json:"type"`
	Optional bool        `json:"optional,omitempty"`
}

// CaseJSON is one case of a WIT variant or enum. Type is nil for enum cases
// and for unit variant cases.
type CaseJSON struct {
	Name string       `json:"name"`
	Type *WitTypeJSON `json:"type,omitempty"`
}

// ParamJSON names one parameter of an exported function.
type ParamJSON struct {
	Name string      `json:"name"`
	Type WitTypeJSON `json:"type"`
}

// FunctionDescriptor is one entry of the describe() response: the full
// signature of a single exported function, enough for the schema bridge to
// build both the input and the canonical output schema.
type FunctionDescriptor struct {
	Name          string        `json:"name"`
	InterfaceName string        `json:"interfaceName,omitempty"`
	Doc           string        `json:"doc,omitempty"`
	Params        []ParamJSON   `json:"params"`
	Results       []WitTypeJSON `json:"results"`
}

// Primitive WIT type kinds recognized by the schema bridge.
const (
	KindBool     = "bool"
	KindS8       = "s8"
	KindS16      = "s16"
	KindS32      = "s32"
	KindS64      = "s64"
	KindU8       = "u8"
	KindU16      = "u16"
	KindU32      = "u32"
	KindU64      = "u64"
	KindFloat32  = "float32"
	KindFloat64  = "float64"
	KindString   = "string"
	KindList     = "list"
	KindRecord   = "record"
	KindTuple    = "tuple"
	KindVariant  = "variant"
	KindEnum     = "enum"
	KindOption   = "option"
	KindResult   = "result"
	KindResource = "resource"
)

var numericKinds = map[string]bool{
	KindS8: true, KindS16: true, KindS32: true, KindS64: true,
	KindU8: true, KindU16: true, KindU32: true, KindU64: true,
	KindFloat32: true, KindFloat64: true,
}

// IsNumeric reports whether kind maps to JSON Schema's "number" type.
func IsNumeric(kind string) bool { return numericKinds[kind] }
