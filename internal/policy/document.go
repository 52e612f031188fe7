// Package policy implements the capability policy documents attached to
// components: parsing, the grant/revoke/reset algebra, resource-limit
// parsing, and the checks the lifecycle manager consults before wiring a
// component's sandbox.
package policy

// Document is the in-memory, canonical form of a policy.yaml file.
// Absence of a Document for a component means deny-all.
type Document struct {
	Version     string      `yaml:"version"`
	Description string      `yaml:"description,omitempty"`
	Permissions Permissions `yaml:"permissions"`
}

// Permissions groups the four capability classes a policy can grant.
type Permissions struct {
	Network     NetworkPermission     `yaml:"network,omitempty"`
	Storage     StoragePermission     `yaml:"storage,omitempty"`
	Environment EnvironmentPermission `yaml:"environment,omitempty"`
	Resources   ResourcePermission    `yaml:"resources,omitempty"`
}

// NetworkPermission lists the hostnames a component may connect to. v1.0
// requires exact matches; no wildcards or CIDRs (see DESIGN.md Open
// Question 1).
type NetworkPermission struct {
	Allow []NetworkRule `yaml:"allow,omitempty"`
}

// NetworkRule is one allowed outbound host.
type NetworkRule struct {
	Host string `yaml:"host"`
}

// StoragePermission lists directories a component may access and with what
// access mode.
type StoragePermission struct {
	Allow []StorageRule `yaml:"allow,omitempty"`
}

// AccessMode is one of "read" or "write"; a StorageRule may carry both.
type AccessMode string

const (
	AccessRead  AccessMode = "read"
	AccessWrite AccessMode = "write"
)

// StorageRule is one allowed directory and the access modes granted on it.
type StorageRule struct {
	URI    string       `yaml:"uri"`
	Access []AccessMode `yaml:"access"`
}

// EnvironmentPermission lists environment-variable keys (optionally with a
// literal value) a component may observe.
type EnvironmentPermission struct {
	Allow []EnvironmentRule `yaml:"allow,omitempty"`
}

// EnvironmentRule is one allowed environment variable. If Value is empty,
// the key is inherited from the host's (frozen) environment snapshot,
// subject to the global allow-list in config; if Value is set, it is used
// literally regardless of the host's actual value.
type EnvironmentRule struct {
	Key   string  `yaml:"key"`
	Value *string `yaml:"value,omitempty"`
}

// ResourcePermission optionally caps memory and CPU for the component.
// Resource caps are singletons: grant/merge is last-writer-wins, not a set.
type ResourcePermission struct {
	Limits ResourceLimits `yaml:"limits,omitempty"`
}

// ResourceLimits holds the raw, as-authored limit strings; call
// ParseMemory/ParseCPU to get enforceable values.
type ResourceLimits struct {
	Memory string `yaml:"memory,omitempty"`
	CPU    string `yaml:"cpu,omitempty"`
}

// CurrentVersion is the only policy schema version this implementation
// understands.
const CurrentVersion = "1.0"

// Empty returns a deny-all document: version set, everything else empty.
func Empty() *Document {
	return &Document{Version: CurrentVersion}
}
