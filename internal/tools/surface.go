// Package tools builds the MCP tool surface: the always-present built-ins
// that manage components, policies, and secrets, plus the dynamic tools
// derived from every loaded component's exports. It is
// deliberately independent of any MCP transport type — cmd/wassette adapts
// Tool/Dispatch to the SDK's Tool/ToolHandler shapes.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/duffney/wassette/internal/errs"
	"github.com/duffney/wassette/internal/lifecycle"
	"github.com/duffney/wassette/internal/policy"
	"github.com/duffney/wassette/internal/schema"
)

// Tool is a transport-agnostic description of one callable tool.
type Tool struct {
	Name         string
	Description  string
	InputSchema  schema.JSON
	OutputSchema schema.JSON
}

// Surface dispatches built-in and dynamic tool calls against a lifecycle
// Manager.
type Surface struct {
	manager *lifecycle.Manager
	logger  *zap.Logger
}

// New creates a Surface backed by manager.
func New(manager *lifecycle.Manager, logger *zap.Logger) *Surface {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Surface{manager: manager, logger: logger}
}

// OnChange forwards to the underlying manager so a transport adapter can
// refresh its registered tool list whenever the component set changes.
func (s *Surface) OnChange(fn func()) {
	s.manager.OnChange(fn)
}

// DynamicTools returns one Tool per exported guest function across every
// loaded component, sorted by name for deterministic listings.
func (s *Surface) DynamicTools() []Tool {
	var out []Tool
	for _, entry := range s.manager.List() {
		for _, td := range entry.Tools {
			out = append(out, Tool{
				Name:         td.Name,
				Description:  td.Description,
				InputSchema:  td.InputSchema,
				OutputSchema: td.OutputSchema,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BuiltinTools returns the fixed set of tools always present regardless of
// which components are loaded.
func (s *Surface) BuiltinTools() []Tool {
	return []Tool{
		{Name: "load-component", Description: "Load a component from a file or oci:// reference.", InputSchema: objectSchema("path", true)},
		{Name: "unload-component", Description: "Unload a component and remove its on-disk artifacts.", InputSchema: objectSchema("id", true)},
		{Name: "list-components", Description: "List every loaded component and its tools.", InputSchema: objectSchema()},
		{Name: "search-components", Description: "Search loaded components and tools by substring.", InputSchema: objectSchema("query", true)},
		{Name: "get-policy", Description: "Return the policy currently attached to a component.", InputSchema: objectSchema("id", true)},
		{Name: "grant-storage-permission", Description: "Grant filesystem access to a component.", InputSchema: objectSchema("id", true, "uri", true, "access", true)},
		{Name: "revoke-storage-permission", Description: "Revoke filesystem access from a component.", InputSchema: objectSchema("id", true, "uri", true)},
		{Name: "grant-network-permission", Description: "Grant outbound network access to a host.", InputSchema: objectSchema("id", true, "host", true)},
		{Name: "revoke-network-permission", Description: "Revoke outbound network access to a host.", InputSchema: objectSchema("id", true, "host", true)},
		{Name: "grant-environment-variable-permission", Description: "Grant visibility of an environment variable.", InputSchema: objectSchema("id", true, "key", true, "value", false)},
		{Name: "revoke-environment-variable-permission", Description: "Revoke visibility of an environment variable.", InputSchema: objectSchema("id", true, "key", true)},
		{Name: "grant-memory-permission", Description: "Set a component's memory limit.", InputSchema: objectSchema("id", true, "limit", true)},
		{Name: "revoke-memory-permission", Description: "Clear a component's memory limit.", InputSchema: objectSchema("id", true)},
		{Name: "reset-permission", Description: "Delete a component's policy entirely.", InputSchema: objectSchema("id", true)},
		{Name: "secret-list", Description: "List the secret keys stored for a component.", InputSchema: objectSchema("id", true)},
		{Name: "secret-set", Description: "Set a secret value for a component.", InputSchema: objectSchema("id", true, "key", true, "value", true)},
		{Name: "secret-delete", Description: "Delete a secret value for a component.", InputSchema: objectSchema("id", true, "key", true)},
	}
}

// Dispatch routes name to a built-in handler or, failing that, to the
// lifecycle manager as a dynamic guest invocation.
func (s *Surface) Dispatch(ctx context.Context, name string, argsJSON []byte) (json.RawMessage, error) {
	if handler, ok := builtins[name]; ok {
		return handler(ctx, s, argsJSON)
	}
	return s.invokeDynamic(ctx, name, argsJSON)
}

func (s *Surface) invokeDynamic(ctx context.Context, name string, argsJSON []byte) (json.RawMessage, error) {
	for _, entry := range s.manager.List() {
		for _, td := range entry.Tools {
			if td.Name == name {
				return s.manager.Invoke(ctx, entry.ID, name, argsJSON)
			}
		}
	}
	return nil, fmt.Errorf("%w: unknown tool %q", errs.ErrInvalidArguments, name)
}

func objectSchema(requiredPairs ...any) schema.JSON {
	props := schema.JSON{}
	var required []string
	for i := 0; i+1 < len(requiredPairs); i += 2 {
		key, _ := requiredPairs[i].(string)
		isRequired, _ := requiredPairs[i+1].(bool)
		props[key] = schema.JSON{"type": "string"}
		if isRequired {
			required = append(required, key)
		}
	}
	out := schema.JSON{"type": "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

type builtinHandler func(ctx context.Context, s *Surface, argsJSON []byte) (json.RawMessage, error)

var builtins = map[string]builtinHandler{
	"load-component":                         handleLoad,
	"unload-component":                       handleUnload,
	"list-components":                        handleListComponents,
	"search-components":                      handleSearchComponents,
	"get-policy":                             handleGetPolicy,
	"grant-storage-permission":               handleGrantStorage,
	"revoke-storage-permission":              handleRevokeStorage,
	"grant-network-permission":               handleGrantNetwork,
	"revoke-network-permission":              handleRevokeNetwork,
	"grant-environment-variable-permission":  handleGrantEnvironment,
	"revoke-environment-variable-permission": handleRevokeEnvironment,
	"grant-memory-permission":                handleGrantMemory,
	"revoke-memory-permission":               handleRevokeMemory,
	"reset-permission":                       handleResetPermission,
	"secret-list":                            handleSecretList,
	"secret-set":                             handleSecretSet,
	"secret-delete":                          handleSecretDelete,
}

func decodeArgs(argsJSON []byte, v any) error {
	if len(argsJSON) == 0 {
		return nil
	}
	if err := json.Unmarshal(argsJSON, v); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidArguments, err)
	}
	return nil
}

func encodeResult(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

func handleLoad(ctx context.Context, s *Surface, argsJSON []byte) (json.RawMessage, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(argsJSON, &args); err != nil {
		return nil, err
	}
	entry, err := s.manager.Load(ctx, args.Path)
	if err != nil {
		return nil, err
	}
	return encodeResult(map[string]any{"id": entry.ID, "tools": len(entry.Tools)})
}

func handleUnload(ctx context.Context, s *Surface, argsJSON []byte) (json.RawMessage, error) {
	var args struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(argsJSON, &args); err != nil {
		return nil, err
	}
	if err := s.manager.Unload(ctx, args.ID); err != nil {
		return nil, err
	}
	return encodeResult(map[string]any{"id": args.ID, "unloaded": true})
}

func handleListComponents(_ context.Context, s *Surface, _ []byte) (json.RawMessage, error) {
	entries := s.manager.List()
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		names := make([]string, 0, len(e.Tools))
		for _, t := range e.Tools {
			names = append(names, t.Name)
		}
		sort.Strings(names)
		out = append(out, map[string]any{"id": e.ID, "tools": names})
	}
	return encodeResult(out)
}

func handleSearchComponents(_ context.Context, s *Surface, argsJSON []byte) (json.RawMessage, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := decodeArgs(argsJSON, &args); err != nil {
		return nil, err
	}
	var matches []string
	for _, e := range s.manager.List() {
		if containsFold(e.ID, args.Query) {
			matches = append(matches, e.ID)
			continue
		}
		for _, t := range e.Tools {
			if containsFold(t.Name, args.Query) {
				matches = append(matches, e.ID)
				break
			}
		}
	}
	sort.Strings(matches)
	return encodeResult(map[string]any{"matches": matches})
}

func handleGetPolicy(_ context.Context, s *Surface, argsJSON []byte) (json.RawMessage, error) {
	var args struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(argsJSON, &args); err != nil {
		return nil, err
	}
	doc, err := s.manager.GetPolicy(args.ID)
	if err != nil {
		return nil, err
	}
	return encodeResult(doc)
}

func handleGrantStorage(_ context.Context, s *Surface, argsJSON []byte) (json.RawMessage, error) {
	var args struct {
		ID     string   `json:"id"`
		URI    string   `json:"uri"`
		Access []string `json:"access"`
	}
	if err := decodeArgs(argsJSON, &args); err != nil {
		return nil, err
	}
	modes := make([]policy.AccessMode, 0, len(args.Access))
	for _, a := range args.Access {
		modes = append(modes, policy.AccessMode(a))
	}
	doc, err := s.manager.Grant(args.ID, func(d *policy.Document) *policy.Document {
		return policy.GrantStorage(d, args.URI, modes...)
	})
	if err != nil {
		return nil, err
	}
	return encodeResult(doc)
}

func handleRevokeStorage(_ context.Context, s *Surface, argsJSON []byte) (json.RawMessage, error) {
	var args struct {
		ID  string `json:"id"`
		URI string `json:"uri"`
	}
	if err := decodeArgs(argsJSON, &args); err != nil {
		return nil, err
	}
	doc, err := s.manager.Revoke(args.ID, func(d *policy.Document) *policy.Document {
		return policy.RevokeStorage(d, args.URI)
	})
	if err != nil {
		return nil, err
	}
	return encodeResult(doc)
}

func handleGrantNetwork(_ context.Context, s *Surface, argsJSON []byte) (json.RawMessage, error) {
	var args struct {
		ID   string `json:"id"`
		Host string `json:"host"`
	}
	if err := decodeArgs(argsJSON, &args); err != nil {
		return nil, err
	}
	doc, err := s.manager.Grant(args.ID, func(d *policy.Document) *policy.Document {
		return policy.GrantNetwork(d, args.Host)
	})
	if err != nil {
		return nil, err
	}
	return encodeResult(doc)
}

func handleRevokeNetwork(_ context.Context, s *Surface, argsJSON []byte) (json.RawMessage, error) {
	var args struct {
		ID   string `json:"id"`
		Host string `json:"host"`
	}
	if err := decodeArgs(argsJSON, &args); err != nil {
		return nil, err
	}
	doc, err := s.manager.Revoke(args.ID, func(d *policy.Document) *policy.Document {
		return policy.RevokeNetwork(d, args.Host)
	})
	if err != nil {
		return nil, err
	}
	return encodeResult(doc)
}

func handleGrantEnvironment(_ context.Context, s *Surface, argsJSON []byte) (json.RawMessage, error) {
	var args struct {
		ID    string  `json:"id"`
		Key   string  `json:"key"`
		Value *string `json:"value,omitempty"`
	}
	if err := decodeArgs(argsJSON, &args); err != nil {
		return nil, err
	}
	doc, err := s.manager.Grant(args.ID, func(d *policy.Document) *policy.Document {
		return policy.GrantEnvironment(d, args.Key, args.Value)
	})
	if err != nil {
		return nil, err
	}
	return encodeResult(doc)
}

func handleRevokeEnvironment(_ context.Context, s *Surface, argsJSON []byte) (json.RawMessage, error) {
	var args struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := decodeArgs(argsJSON, &args); err != nil {
		return nil, err
	}
	doc, err := s.manager.Revoke(args.ID, func(d *policy.Document) *policy.Document {
		return policy.RevokeEnvironment(d, args.Key)
	})
	if err != nil {
		return nil, err
	}
	return encodeResult(doc)
}

func handleGrantMemory(_ context.Context, s *Surface, argsJSON []byte) (json.RawMessage, error) {
	var args struct {
		ID    string `json:"id"`
		Limit string `json:"limit"`
	}
	if err := decodeArgs(argsJSON, &args); err != nil {
		return nil, err
	}
	var grantErr error
	doc, err := s.manager.Grant(args.ID, func(d *policy.Document) *policy.Document {
		updated, err := policy.GrantMemory(d, args.Limit)
		if err != nil {
			grantErr = err
			return d
		}
		return updated
	})
	if grantErr != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidLimit, grantErr)
	}
	if err != nil {
		return nil, err
	}
	return encodeResult(doc)
}

func handleRevokeMemory(_ context.Context, s *Surface, argsJSON []byte) (json.RawMessage, error) {
	var args struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(argsJSON, &args); err != nil {
		return nil, err
	}
	doc, err := s.manager.Revoke(args.ID, policy.RevokeMemory)
	if err != nil {
		return nil, err
	}
	return encodeResult(doc)
}

func handleResetPermission(_ context.Context, s *Surface, argsJSON []byte) (json.RawMessage, error) {
	var args struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(argsJSON, &args); err != nil {
		return nil, err
	}
	if err := s.manager.ResetPolicy(args.ID); err != nil {
		return nil, err
	}
	return encodeResult(map[string]any{"id": args.ID, "reset": true})
}

func handleSecretList(_ context.Context, s *Surface, argsJSON []byte) (json.RawMessage, error) {
	var args struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(argsJSON, &args); err != nil {
		return nil, err
	}
	keys, err := s.manager.Secrets().List(args.ID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	return encodeResult(map[string]any{"keys": names})
}

func handleSecretSet(_ context.Context, s *Surface, argsJSON []byte) (json.RawMessage, error) {
	var args struct {
		ID    string `json:"id"`
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := decodeArgs(argsJSON, &args); err != nil {
		return nil, err
	}
	if _, ok := s.manager.Get(args.ID); !ok {
		return nil, errs.Wrap("secret-set", args.ID, errs.ErrUnknownComponent)
	}
	if err := s.manager.Secrets().Set(args.ID, args.Key, args.Value); err != nil {
		return nil, err
	}
	return encodeResult(map[string]any{"id": args.ID, "key": args.Key, "set": true})
}

func handleSecretDelete(_ context.Context, s *Surface, argsJSON []byte) (json.RawMessage, error) {
	var args struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := decodeArgs(argsJSON, &args); err != nil {
		return nil, err
	}
	if err := s.manager.Secrets().Delete(args.ID, args.Key); err != nil {
		return nil, err
	}
	return encodeResult(map[string]any{"id": args.ID, "key": args.Key, "deleted": true})
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return len(haystack) >= len(needle) && indexFold(haystack, needle) >= 0
}

func indexFold(haystack, needle string) int {
	hl, nl := []rune(haystack), []rune(needle)
	for i := range hl {
		if i+len(nl) > len(hl) {
			break
		}
		if equalFold(hl[i:i+len(nl)], nl) {
			return i
		}
	}
	return -1
}

func equalFold(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ar, br := a[i], b[i]
		if 'A' <= ar && ar <= 'Z' {
			ar += 'a' - 'A'
		}
		if 'A' <= br && br <= 'Z' {
			br += 'a' - 'A'
		}
		if ar != br {
			return false
		}
	}
	return true
}
