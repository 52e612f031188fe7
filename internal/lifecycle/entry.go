// Package lifecycle owns the component registry and mediates every
// cross-cutting concern a call touches: policy, secrets, the schema bridge,
// and the wasm runtime.
package lifecycle

import (
	"time"

	"github.com/duffney/wassette/internal/policy"
	"github.com/duffney/wassette/internal/schema"
	"github.com/duffney/wassette/internal/wasm"
)

// ToolDescriptor is the fully-resolved, externally-visible shape of one
// exported guest function: its qualified tool name and the input/output
// JSON Schemas the schema bridge built from its WitType signature.
type ToolDescriptor struct {
	Name          string      `json:"name"`
	ExportName    string      `json:"exportName"`
	InterfaceName string      `json:"interfaceName,omitempty"`
	Description   string      `json:"description,omitempty"`
	InputSchema   schema.JSON `json:"inputSchema"`
	OutputSchema  schema.JSON `json:"outputSchema,omitempty"`
	HasOutput     bool        `json:"hasOutput"`
}

// ValidationStamp lets reboot recovery decide whether a cached metadata
// sidecar can be trusted without recompiling the artifact.
type ValidationStamp struct {
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Equal reports whether two stamps describe the same artifact state.
func (s ValidationStamp) Equal(other ValidationStamp) bool {
	return s.Size == other.Size && s.ModTime.Equal(other.ModTime)
}

// Metadata is the on-disk sidecar persisted at <plugin_dir>/<id>.meta.json.
type Metadata struct {
	SourceURI       string           `json:"source_uri"`
	Tools           []ToolDescriptor `json:"schemas"`
	CanonicalizedAt time.Time        `json:"canonicalized_at"`
	Stamp           ValidationStamp  `json:"validation_stamp"`
}

// Entry is one live component in the registry: its compiled template, the
// tools it exposes, and the policy currently attached to it. Entries are
// immutable except for Policy, which Grant/Revoke/Reset replace wholesale
// under the registry's write lock.
type Entry struct {
	ID       string
	Template *wasm.Template
	Tools    []ToolDescriptor
	Policy   *policy.Document
	Meta     Metadata
}
