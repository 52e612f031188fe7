// Package wasm hosts compiled guest components with wazero: compilation and
// caching, per-call sandbox wiring (env, filesystem, network, memory), and
// the packed-pointer calling convention used to describe and invoke exports.
package wasm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

// globalCache lets compiled modules survive across Runtime instances within
// the same process.
var globalCache = wazero.NewCompilationCache()

// Runtime owns the wazero engine and the set of compiled templates it has
// produced. A template is immutable once compiled; each call derives a fresh
// instance from it, so templates may be shared across concurrent calls.
type Runtime struct {
	engine wazero.Runtime
	logger *zap.Logger

	mu        sync.RWMutex
	templates map[string]*Template
}

// New creates a Runtime with no templates loaded.
func New(ctx context.Context, logger *zap.Logger) (*Runtime, error) {
	config := wazero.NewRuntimeConfig().WithCompilationCache(globalCache)
	engine := wazero.NewRuntimeWithConfig(ctx, config)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, engine); err != nil {
		_ = engine.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	if err := RegisterHostModule(ctx, engine); err != nil {
		_ = engine.Close(ctx)
		return nil, fmt.Errorf("register host module: %w", err)
	}

	return &Runtime{
		engine:    engine,
		logger:    logger,
		templates: make(map[string]*Template),
	}, nil
}

// Compile compiles wasmBytes and caches the resulting template under id. A
// second Compile for the same id returns the existing template unchanged;
// callers that need to replace an artifact must Evict first.
func (r *Runtime) Compile(ctx context.Context, id string, wasmBytes []byte) (*Template, error) {
	r.mu.RLock()
	if t, ok := r.templates[id]; ok {
		r.mu.RUnlock()
		return t, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.templates[id]; ok {
		return t, nil
	}

	compiled, err := r.engine.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile component %s: %w", id, err)
	}

	t := &Template{id: id, module: compiled, engine: r.engine, logger: r.logger}
	r.templates[id] = t
	return t, nil
}

// Lookup returns the template for id, if compiled.
func (r *Runtime) Lookup(id string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	return t, ok
}

// Evict removes and closes the template for id, if present. Instances
// already derived from it keep running; only future Compile/Invoke calls
// for id are affected.
func (r *Runtime) Evict(ctx context.Context, id string) error {
	r.mu.Lock()
	t, ok := r.templates[id]
	delete(r.templates, id)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return t.module.Close(ctx)
}

// Close tears down the engine and every compiled template.
func (r *Runtime) Close(ctx context.Context) error {
	return r.engine.Close(ctx)
}
