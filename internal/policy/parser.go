package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

// Load reads and parses a policy document from path. A missing file is not
// an error at this layer — callers that need deny-by-default semantics treat
// a nil *Document as "no capabilities", matching reboot recovery and fresh
// loads alike.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes policy YAML bytes into a Document and validates it.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.UnmarshalWithOptions(data, &doc, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if doc.Version == "" {
		doc.Version = CurrentVersion
	}
	if err := Validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks structural invariants that the YAML decoder alone can't
// enforce: known version, well-formed resource limits, non-empty keys.
func Validate(doc *Document) error {
	if doc.Version != CurrentVersion {
		return fmt.Errorf("policy: unsupported version %q", doc.Version)
	}
	for _, r := range doc.Permissions.Network.Allow {
		if r.Host == "" {
			return fmt.Errorf("policy: network rule missing host")
		}
	}
	for _, r := range doc.Permissions.Storage.Allow {
		if r.URI == "" {
			return fmt.Errorf("policy: storage rule missing uri")
		}
		for _, m := range r.Access {
			if m != AccessRead && m != AccessWrite {
				return fmt.Errorf("policy: storage rule %s has invalid access %q", r.URI, m)
			}
		}
	}
	for _, r := range doc.Permissions.Environment.Allow {
		if r.Key == "" {
			return fmt.Errorf("policy: environment rule missing key")
		}
	}
	if doc.Permissions.Resources.Limits.Memory != "" {
		if _, err := ParseMemory(doc.Permissions.Resources.Limits.Memory); err != nil {
			return err
		}
	}
	if doc.Permissions.Resources.Limits.CPU != "" {
		if _, err := ParseCPU(doc.Permissions.Resources.Limits.CPU); err != nil {
			return err
		}
	}
	return nil
}

// Save persists doc to path atomically: write to a temp file in the same
// directory, then rename into place, so readers never observe a partial
// write (mirrors the secret store and metadata sidecar persistence).
func Save(path string, doc *Document) error {
	data, err := yaml.MarshalWithOptions(doc, yaml.IndentSequence(true))
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create policy dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".policy-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("create temp policy file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp policy file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp policy file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("chmod temp policy file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename policy file into place: %w", err)
	}
	return nil
}
