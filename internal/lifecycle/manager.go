package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/duffney/wassette/internal/abi"
	"github.com/duffney/wassette/internal/errs"
	"github.com/duffney/wassette/internal/ociloader"
	"github.com/duffney/wassette/internal/policy"
	"github.com/duffney/wassette/internal/schema"
	"github.com/duffney/wassette/internal/secrets"
	"github.com/duffney/wassette/internal/wasm"
)

// Manager is the lifecycle manager: the single writer of the component
// registry and the only collaborator that touches the loader, the wasm
// runtime, the secret store, and on-disk policy files together.
type Manager struct {
	pluginDir string
	envAllow  map[string]bool

	runtime *wasm.Runtime
	loader  *ociloader.Loader
	secrets *secrets.Store
	logger  *zap.Logger

	mu      sync.RWMutex
	entries map[string]*Entry

	changeMu sync.Mutex
	onChange func()
}

// Config controls the ambient, process-wide knobs a Manager needs that
// aren't part of any single component's policy.
type Config struct {
	PluginDir          string
	SecretsDir         string
	EnvironmentAllowed []string
}

// New builds a Manager rooted at cfg.PluginDir/cfg.SecretsDir. Callers
// should follow construction with RecoverOnBoot to repopulate the registry
// from a prior run.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.PluginDir, 0o755); err != nil {
		return nil, fmt.Errorf("create plugin dir: %w", err)
	}

	rt, err := wasm.New(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("create wasm runtime: %w", err)
	}

	allow := make(map[string]bool, len(cfg.EnvironmentAllowed))
	for _, k := range cfg.EnvironmentAllowed {
		allow[k] = true
	}

	return &Manager{
		pluginDir: cfg.PluginDir,
		envAllow:  allow,
		runtime:   rt,
		loader:    ociloader.New(cfg.PluginDir),
		secrets:   secrets.New(cfg.SecretsDir),
		logger:    logger,
		entries:   make(map[string]*Entry),
	}, nil
}

// OnChange registers a callback invoked (never concurrently) after every
// successful Load or Unload, so the tool surface can notify the transport
// that its tool list changed.
func (m *Manager) OnChange(fn func()) {
	m.changeMu.Lock()
	defer m.changeMu.Unlock()
	m.onChange = fn
}

func (m *Manager) notifyChange() {
	m.changeMu.Lock()
	defer m.changeMu.Unlock()
	if m.onChange != nil {
		m.onChange()
	}
}

func (m *Manager) metaPath(id string) string   { return filepath.Join(m.pluginDir, id+".meta.json") }
func (m *Manager) policyPath(id string) string { return filepath.Join(m.pluginDir, id+".policy.yaml") }
func (m *Manager) artifactPath(id string) string {
	return filepath.Join(m.pluginDir, id+".wasm")
}

// Load resolves uri, compiles the artifact, introspects its exports, and
// inserts it into the registry.
func (m *Manager) Load(ctx context.Context, uri string) (*Entry, error) {
	result, err := m.loader.Load(ctx, uri)
	if err != nil {
		return nil, errs.Wrap("load", "", fmt.Errorf("%w: %v", errs.ErrLoadFailed, err))
	}
	id := result.ComponentID

	m.mu.RLock()
	_, exists := m.entries[id]
	m.mu.RUnlock()
	if exists {
		return nil, errs.Wrap("load", id, errs.ErrAlreadyLoaded)
	}

	entry, err := m.buildEntry(ctx, id, result.ArtifactPath, result.SourceURI)
	if err != nil {
		_ = os.Remove(result.ArtifactPath)
		return nil, errs.Wrap("load", id, err)
	}

	if err := m.persistMetadata(id, entry.Meta); err != nil {
		_ = os.Remove(result.ArtifactPath)
		return nil, errs.Wrap("load", id, err)
	}

	if doc, err := policy.Load(m.policyPath(id)); err == nil && doc != nil {
		entry.Policy = doc
	}

	m.mu.Lock()
	if _, raced := m.entries[id]; raced {
		m.mu.Unlock()
		_ = os.Remove(result.ArtifactPath)
		_ = os.Remove(m.metaPath(id))
		return nil, errs.Wrap("load", id, errs.ErrAlreadyLoaded)
	}
	m.entries[id] = entry
	m.mu.Unlock()

	m.notifyChange()
	m.logger.Info("component loaded", zap.String("component", id), zap.Int("tools", len(entry.Tools)))
	return entry, nil
}

// buildEntry compiles wasmPath and introspects it into an Entry; it does not
// touch the registry or any on-disk policy/metadata file.
func (m *Manager) buildEntry(ctx context.Context, id, wasmPath, sourceURI string) (*Entry, error) {
	data, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	template, err := m.runtime.Compile(ctx, id, data)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	instance, err := template.Instantiate(ctx, wasm.EmptySandbox())
	if err != nil {
		return nil, fmt.Errorf("instantiate for introspection: %w", err)
	}
	defer instance.Close(ctx)

	descriptors, err := instance.Describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("describe: %w", err)
	}

	tools, err := buildToolDescriptors(id, descriptors)
	if err != nil {
		return nil, fmt.Errorf("build tool schemas: %w", err)
	}

	info, err := os.Stat(wasmPath)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	return &Entry{
		ID:       id,
		Template: template,
		Tools:    tools,
		Meta: Metadata{
			SourceURI:       sourceURI,
			Tools:           tools,
			CanonicalizedAt: time.Now(),
			Stamp:           ValidationStamp{Size: info.Size(), ModTime: info.ModTime()},
		},
	}, nil
}

var qualifiedNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// qualifiedToolName builds the dynamic tool name the surface exposes for one
// exported function: componentID, interface name, and function name joined
// and sanitized to the MCP tool-name character set.
func qualifiedToolName(componentID string, d abi.FunctionDescriptor) string {
	parts := componentID
	if d.InterfaceName != "" {
		parts += "_" + d.InterfaceName
	}
	parts += "_" + d.Name
	return qualifiedNameSanitizer.ReplaceAllString(parts, "_")
}

// buildToolDescriptors translates each function descriptor into a
// ToolDescriptor with a canonicalized, envelope-wrapped output schema.
func buildToolDescriptors(componentID string, descriptors []abi.FunctionDescriptor) ([]ToolDescriptor, error) {
	tools := make([]ToolDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		input, err := schema.BuildInputSchema(d.Params)
		if err != nil {
			return nil, fmt.Errorf("function %s: input schema: %w", d.Name, err)
		}

		output, hasOutput, err := schema.BuildOutputSchema(d.Results)
		if err != nil {
			return nil, fmt.Errorf("function %s: output schema: %w", d.Name, err)
		}
		if hasOutput {
			output = schema.CanonicalizeOutputSchema(output)
			if err := schema.Validate(output); err != nil {
				return nil, fmt.Errorf("function %s: output schema: %w", d.Name, err)
			}
		}

		tools = append(tools, ToolDescriptor{
			Name:          qualifiedToolName(componentID, d),
			ExportName:    d.Name,
			InterfaceName: d.InterfaceName,
			Description:   d.Doc,
			InputSchema:   input,
			OutputSchema:  output,
			HasOutput:     hasOutput,
		})
	}
	return tools, nil
}

func (m *Manager) persistMetadata(id string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	path := m.metaPath(id)
	tmp, err := os.CreateTemp(m.pluginDir, ".meta-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Get returns the registry entry for id.
func (m *Manager) Get(id string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e, ok
}

// List returns every registered entry, in no particular order.
func (m *Manager) List() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

// Unload removes id from the registry and deletes its artifact, metadata,
// and policy files; the component's secret file is kept. Calls already in flight
// against the removed entry's Template run to completion; it is only future
// lookups that observe the component as gone.
func (m *Manager) Unload(ctx context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return errs.Wrap("unload", id, errs.ErrUnknownComponent)
	}
	delete(m.entries, id)
	m.mu.Unlock()

	if err := m.runtime.Evict(ctx, id); err != nil {
		m.logger.Warn("evict template failed", zap.String("component", id), zap.Error(err))
	}
	_ = os.Remove(m.artifactPath(id))
	_ = os.Remove(m.metaPath(id))
	_ = os.Remove(m.policyPath(id))

	m.notifyChange()
	m.logger.Info("component unloaded", zap.String("component", id))
	return nil
}

// Invoke calls toolName on component id with the given raw JSON arguments
// and returns the canonicalized JSON result.
func (m *Manager) Invoke(ctx context.Context, id, toolName string, argsJSON []byte) ([]byte, error) {
	callID := uuid.New().String()
	log := m.logger.With(zap.String("call_id", callID), zap.String("component", id), zap.String("tool", toolName))

	entry, ok := m.Get(id)
	if !ok {
		return nil, errs.Wrap("invoke", id, errs.ErrUnknownComponent)
	}

	tool, ok := findTool(entry.Tools, toolName)
	if !ok {
		return nil, errs.Wrap("invoke", id, fmt.Errorf("%w: unknown tool %q", errs.ErrInvalidArguments, toolName))
	}

	if err := schema.ValidateArgs(tool.InputSchema, argsJSON); err != nil {
		return nil, errs.Wrap("invoke", id, err)
	}

	sb, err := m.buildSandbox(ctx, entry)
	if err != nil {
		return nil, errs.Wrap("invoke", id, err)
	}

	instance, err := entry.Template.Instantiate(ctx, sb)
	if err != nil {
		return nil, errs.Wrap("invoke", id, fmt.Errorf("%w: %v", errs.ErrPolicyViolation, err))
	}
	defer instance.Close(ctx)

	log.Debug("invoking guest export")
	result, err := instance.Invoke(ctx, tool.ExportName, argsJSON)
	if err != nil {
		log.Warn("guest export failed", zap.Error(err))
		return nil, errs.Wrap("invoke", id, err)
	}

	var decoded any
	if len(result) > 0 {
		if err := json.Unmarshal(result, &decoded); err != nil {
			return nil, errs.Wrap("invoke", id, fmt.Errorf("%w: decode guest result: %v", errs.ErrInvalidArguments, err))
		}
	}

	canonical := schema.EnsureStructuredResult(tool.OutputSchema, decoded)
	out, err := json.Marshal(canonical)
	if err != nil {
		return nil, errs.Wrap("invoke", id, fmt.Errorf("marshal result: %w", err))
	}
	return out, nil
}

func findTool(tools []ToolDescriptor, name string) (ToolDescriptor, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDescriptor{}, false
}

// buildSandbox derives the per-call Sandbox from a component's policy and
// the secret store.
func (m *Manager) buildSandbox(ctx context.Context, entry *Entry) (wasm.Sandbox, error) {
	doc := entry.Policy
	if doc == nil {
		return wasm.EmptySandbox(), nil
	}

	secretValues, err := m.secrets.List(entry.ID)
	if err != nil {
		return wasm.Sandbox{}, fmt.Errorf("load secrets: %w", err)
	}

	env := map[string]string{}
	for _, rule := range doc.Permissions.Environment.Allow {
		if rule.Value != nil {
			env[rule.Key] = *rule.Value
			continue
		}
		if v, ok := secretValues[rule.Key]; ok {
			env[rule.Key] = v
			continue
		}
		if m.envAllow[rule.Key] {
			if v, ok := os.LookupEnv(rule.Key); ok {
				env[rule.Key] = v
			}
		}
	}

	var mounts []wasm.Mount
	for dir, modes := range policy.AllowedDirs(doc) {
		readOnly := true
		for _, mode := range modes {
			if mode == policy.AccessWrite {
				readOnly = false
			}
		}
		mounts = append(mounts, wasm.Mount{HostPath: dir, GuestPath: dir, ReadOnly: readOnly})
	}

	memPages := uint32(0)
	if mem := doc.Permissions.Resources.Limits.Memory; mem != "" {
		bytes, err := policy.ParseMemory(mem)
		if err != nil {
			return wasm.Sandbox{}, fmt.Errorf("%w: %v", errs.ErrInvalidLimit, err)
		}
		memPages = policy.MemoryPages(bytes)
	}

	// CPU has no native fuel-metering equivalent in wazero's compiler mode,
	// so the limit is realized as an advisory budget of host-function calls
	// rather than an enforced one.
	callBudget := 0
	if cpu := doc.Permissions.Resources.Limits.CPU; cpu != "" {
		millicores, err := policy.ParseCPU(cpu)
		if err != nil {
			return wasm.Sandbox{}, fmt.Errorf("%w: %v", errs.ErrInvalidLimit, err)
		}
		callBudget = cpuCallBudget(millicores)
	}

	return wasm.Sandbox{
		Env:              env,
		Mounts:           mounts,
		MemoryLimitPages: memPages,
		CallBudget:       callBudget,
		NetworkAllowed: func(host string) bool {
			return policy.CheckNetwork(doc, host)
		},
	}, nil
}

// cpuCallBudget converts a millicore limit into a host-call budget for one
// invocation: 1000 millicores (one full core) affords 1000 host calls, the
// same ratio the original's fuel counter used per compute-unit.
func cpuCallBudget(millicores int64) int {
	if millicores <= 0 {
		return 0
	}
	return int(millicores)
}

// Grant applies fn to the component's current policy (or an empty one) and
// persists the result.
func (m *Manager) Grant(id string, fn func(*policy.Document) *policy.Document) (*policy.Document, error) {
	return m.mutatePolicy(id, fn)
}

// Revoke is Grant's counterpart; both go through the same persist path
// since revocation is just another pure document transform.
func (m *Manager) Revoke(id string, fn func(*policy.Document) *policy.Document) (*policy.Document, error) {
	return m.mutatePolicy(id, fn)
}

// ResetPolicy deletes the component's policy file; it retains no
// capabilities afterward.
func (m *Manager) ResetPolicy(id string) error {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if ok {
		entry.Policy = policy.Reset()
	}
	m.mu.Unlock()
	if !ok {
		return errs.Wrap("reset-permission", id, errs.ErrUnknownComponent)
	}
	if err := os.Remove(m.policyPath(id)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap("reset-permission", id, err)
	}
	return nil
}

func (m *Manager) mutatePolicy(id string, fn func(*policy.Document) *policy.Document) (*policy.Document, error) {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return nil, errs.Wrap("policy", id, errs.ErrUnknownComponent)
	}

	current := entry.Policy
	if current == nil {
		current = policy.Empty()
	}
	updated := fn(current)
	entry.Policy = updated
	m.mu.Unlock()

	if err := policy.Save(m.policyPath(id), updated); err != nil {
		return nil, errs.Wrap("policy", id, err)
	}
	return updated, nil
}

// GetPolicy returns the policy currently attached to id, or nil if none.
func (m *Manager) GetPolicy(id string) (*policy.Document, error) {
	entry, ok := m.Get(id)
	if !ok {
		return nil, errs.Wrap("get-policy", id, errs.ErrUnknownComponent)
	}
	return entry.Policy, nil
}

// Secrets exposes the secret store for the tool surface's secret
// list/set/delete built-ins.
func (m *Manager) Secrets() *secrets.Store { return m.secrets }

// Close tears down the wasm runtime.
func (m *Manager) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}
