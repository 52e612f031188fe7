package policy

// Grant/Revoke operations are pure: they never mutate the input document,
// matching the "policies are immutable once persisted" invariant. Callers
// persist the returned document via Save and then swap it into the
// lifecycle manager's registry entry.

// GrantNetwork returns a copy of doc with host added to the network
// allow-list (set-union: a duplicate host is a no-op).
func GrantNetwork(doc *Document, host string) *Document {
	out := clone(doc)
	for _, r := range out.Permissions.Network.Allow {
		if r.Host == host {
			return out
		}
	}
	out.Permissions.Network.Allow = append(out.Permissions.Network.Allow, NetworkRule{Host: host})
	return out
}

// RevokeNetwork returns a copy of doc with host removed from the network
// allow-list.
func RevokeNetwork(doc *Document, host string) *Document {
	out := clone(doc)
	filtered := out.Permissions.Network.Allow[:0]
	for _, r := range out.Permissions.Network.Allow {
		if r.Host != host {
			filtered = append(filtered, r)
		}
	}
	out.Permissions.Network.Allow = filtered
	return out
}

// GrantStorage returns a copy of doc granting access (read/write, union of
// any existing modes for the same uri) on uri.
func GrantStorage(doc *Document, uri string, access ...AccessMode) *Document {
	out := clone(doc)
	for i, r := range out.Permissions.Storage.Allow {
		if r.URI == uri {
			out.Permissions.Storage.Allow[i].Access = unionAccess(r.Access, access)
			return out
		}
	}
	out.Permissions.Storage.Allow = append(out.Permissions.Storage.Allow, StorageRule{URI: uri, Access: dedupeAccess(access)})
	return out
}

// RevokeStorage removes all access modes for uri — revoking storage access
// is always by URI and always total, never a partial read/write revoke.
func RevokeStorage(doc *Document, uri string) *Document {
	out := clone(doc)
	filtered := out.Permissions.Storage.Allow[:0]
	for _, r := range out.Permissions.Storage.Allow {
		if r.URI != uri {
			filtered = append(filtered, r)
		}
	}
	out.Permissions.Storage.Allow = filtered
	return out
}

// GrantEnvironment returns a copy of doc allowing key, optionally pinned to
// a literal value.
func GrantEnvironment(doc *Document, key string, value *string) *Document {
	out := clone(doc)
	for i, r := range out.Permissions.Environment.Allow {
		if r.Key == key {
			out.Permissions.Environment.Allow[i].Value = value
			return out
		}
	}
	out.Permissions.Environment.Allow = append(out.Permissions.Environment.Allow, EnvironmentRule{Key: key, Value: value})
	return out
}

// RevokeEnvironment removes key from the environment allow-list.
func RevokeEnvironment(doc *Document, key string) *Document {
	out := clone(doc)
	filtered := out.Permissions.Environment.Allow[:0]
	for _, r := range out.Permissions.Environment.Allow {
		if r.Key != key {
			filtered = append(filtered, r)
		}
	}
	out.Permissions.Environment.Allow = filtered
	return out
}

// GrantMemory sets the memory limit (last-writer-wins; not a set).
func GrantMemory(doc *Document, limit string) (*Document, error) {
	if _, err := ParseMemory(limit); err != nil {
		return nil, err
	}
	out := clone(doc)
	out.Permissions.Resources.Limits.Memory = limit
	return out, nil
}

// RevokeMemory clears the memory limit.
func RevokeMemory(doc *Document) *Document {
	out := clone(doc)
	out.Permissions.Resources.Limits.Memory = ""
	return out
}

// GrantCPU sets the CPU limit (last-writer-wins; not a set).
func GrantCPU(doc *Document, limit string) (*Document, error) {
	if _, err := ParseCPU(limit); err != nil {
		return nil, err
	}
	out := clone(doc)
	out.Permissions.Resources.Limits.CPU = limit
	return out, nil
}

// RevokeCPU clears the CPU limit.
func RevokeCPU(doc *Document) *Document {
	out := clone(doc)
	out.Permissions.Resources.Limits.CPU = ""
	return out
}

// Reset returns a fresh deny-all document, discarding every permission.
func Reset() *Document {
	return Empty()
}

// Merge combines two documents with set-union semantics for allow-lists and
// last-writer-wins for resource limits (b wins ties), applied consistently
// across network, storage, and environment rules.
func Merge(a, b *Document) *Document {
	out := clone(a)
	for _, r := range b.Permissions.Network.Allow {
		out = GrantNetwork(out, r.Host)
	}
	for _, r := range b.Permissions.Storage.Allow {
		out = GrantStorage(out, r.URI, r.Access...)
	}
	for _, r := range b.Permissions.Environment.Allow {
		out = GrantEnvironment(out, r.Key, r.Value)
	}
	if b.Permissions.Resources.Limits.Memory != "" {
		out.Permissions.Resources.Limits.Memory = b.Permissions.Resources.Limits.Memory
	}
	if b.Permissions.Resources.Limits.CPU != "" {
		out.Permissions.Resources.Limits.CPU = b.Permissions.Resources.Limits.CPU
	}
	return out
}

func clone(doc *Document) *Document {
	if doc == nil {
		doc = Empty()
	}
	out := &Document{Version: doc.Version, Description: doc.Description}
	out.Permissions.Network.Allow = append([]NetworkRule{}, doc.Permissions.Network.Allow...)
	out.Permissions.Storage.Allow = make([]StorageRule, len(doc.Permissions.Storage.Allow))
	for i, r := range doc.Permissions.Storage.Allow {
		out.Permissions.Storage.Allow[i] = StorageRule{URI: r.URI, Access: append([]AccessMode{}, r.Access...)}
	}
	out.Permissions.Environment.Allow = append([]EnvironmentRule{}, doc.Permissions.Environment.Allow...)
	out.Permissions.Resources = doc.Permissions.Resources
	if out.Version == "" {
		out.Version = CurrentVersion
	}
	return out
}

func unionAccess(existing []AccessMode, add []AccessMode) []AccessMode {
	out := append([]AccessMode{}, existing...)
	for _, m := range add {
		found := false
		for _, e := range out {
			if e == m {
				found = true
				break
			}
		}
		if !found {
			out = append(out, m)
		}
	}
	return out
}

func dedupeAccess(in []AccessMode) []AccessMode {
	return unionAccess(nil, in)
}
