package policy

import (
	"path/filepath"
	"strings"
)

// CheckNetwork reports whether doc permits an outbound connection to host.
// v1.0 policies only grant exact hostnames: a rule matches only when its host
// equals host, with no glob or CIDR matching (DESIGN.md Open Question 1).
func CheckNetwork(doc *Document, host string) bool {
	if doc == nil {
		return false
	}
	for _, r := range doc.Permissions.Network.Allow {
		if r.Host == host {
			return true
		}
	}
	return false
}

// CheckStorage reports whether doc permits mode access to absPath. A rule
// grants access to absPath if absPath is the rule's directory or falls
// inside it; the caller is expected to have already resolved symlinks and
// made the path absolute.
func CheckStorage(doc *Document, absPath string, mode AccessMode) bool {
	if doc == nil {
		return false
	}
	for _, r := range doc.Permissions.Storage.Allow {
		dir := strings.TrimPrefix(r.URI, "file://")
		dir = strings.TrimPrefix(dir, "fs://")
		if !withinDir(dir, absPath) {
			continue
		}
		for _, m := range r.Access {
			if m == mode {
				return true
			}
		}
	}
	return false
}

// AllowedDirs returns every directory this policy grants any access to,
// paired with the union of access modes, for building wazero FS preopens.
func AllowedDirs(doc *Document) map[string][]AccessMode {
	out := map[string][]AccessMode{}
	if doc == nil {
		return out
	}
	for _, r := range doc.Permissions.Storage.Allow {
		dir := strings.TrimPrefix(r.URI, "file://")
		dir = strings.TrimPrefix(dir, "fs://")
		out[dir] = append(out[dir], r.Access...)
	}
	return out
}

// CheckEnvironment reports whether doc allows key, and returns the literal
// value to use if the rule pins one (nil means "inherit from host").
func CheckEnvironment(doc *Document, key string) (allowed bool, literal *string) {
	if doc == nil {
		return false, nil
	}
	for _, r := range doc.Permissions.Environment.Allow {
		if r.Key == key {
			return true, r.Value
		}
	}
	return false, nil
}

func withinDir(dir, target string) bool {
	dir = filepath.Clean(dir)
	target = filepath.Clean(target)
	if dir == target {
		return true
	}
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
