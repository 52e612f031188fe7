package wasm

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/duffney/wassette/internal/abi"
)

// describeExport is the fixed export every component must expose so the
// schema bridge can obtain its function descriptors without a Component
// Model parser.
const describeExport = "describe"

// Template is an immutable, compiled component ready to be instantiated.
// Many concurrent calls may derive instances from the same Template.
type Template struct {
	id     string
	module wazero.CompiledModule
	engine wazero.Runtime
	logger *zap.Logger
}

// ID returns the component ID this template was compiled for.
func (t *Template) ID() string { return t.id }

// Instantiate derives a fresh, single-use guest module configured per sb.
// Callers must Close the returned Instance.
func (t *Template) Instantiate(ctx context.Context, sb Sandbox) (*Instance, error) {
	cfg, err := moduleConfig(sb)
	if err != nil {
		return nil, err
	}

	mod, err := t.engine.InstantiateModule(ctx, t.module, cfg)
	if err != nil {
		return nil, fmt.Errorf("instantiate component %s: %w", t.id, err)
	}

	if initFn := mod.ExportedFunction("_initialize"); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, fmt.Errorf("initialize component %s: %w", t.id, err)
		}
	}

	network := sb.NetworkAllowed
	if network == nil {
		network = func(string) bool { return false }
	}

	var budget *int64
	if sb.CallBudget > 0 {
		remaining := int64(sb.CallBudget)
		budget = &remaining
	}

	return &Instance{id: t.id, module: mod, networkAllowed: network, callBudget: budget}, nil
}

// moduleConfig translates a Sandbox into wazero's module configuration,
// wiring filesystem preopens and the frozen environment snapshot. Network
// enforcement happens inside the registered host functions, not here.
func moduleConfig(sb Sandbox) (wazero.ModuleConfig, error) {
	fsConfig := wazero.NewFSConfig()
	for _, m := range sb.Mounts {
		if m.ReadOnly {
			fsConfig = fsConfig.WithReadOnlyDirMount(m.HostPath, m.GuestPath)
		} else {
			fsConfig = fsConfig.WithDirMount(m.HostPath, m.GuestPath)
		}
	}

	cfg := wazero.NewModuleConfig().
		WithFSConfig(fsConfig).
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader).
		WithStdout(discard{}).
		WithStderr(discard{})

	for k, v := range sb.Env {
		cfg = cfg.WithEnv(k, v)
	}
	return cfg, nil
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Instance is a single-use guest module instance. Each Invoke/Describe call
// in the lifecycle manager gets its own Instance so guest memory is never
// shared between concurrent calls to the same component.
type Instance struct {
	id             string
	module         api.Module
	networkAllowed func(host string) bool
	// callBudget is an advisory fuel-like counter approximating a CPU limit:
	// wazero's compiler-mode runtime exposes no native fuel metering, so CPU
	// policy is realized as a budget of host-function calls instead. nil
	// means unlimited.
	callBudget *int64
}

// Close tears down the instance, releasing its guest memory.
func (in *Instance) Close(ctx context.Context) error {
	return in.module.Close(ctx)
}

// Describe calls the component's fixed describe() export and returns the
// decoded function descriptors.
func (in *Instance) Describe(ctx context.Context) ([]abi.FunctionDescriptor, error) {
	data, err := in.callPacked(ctx, describeExport, nil)
	if err != nil {
		return nil, err
	}
	descriptors, err := abi.DecodeDescriptors(data)
	if err != nil {
		return nil, fmt.Errorf("decode describe() output for %s: %w", in.id, err)
	}
	return descriptors, nil
}

// Invoke calls the named guest export with argsJSON as its single packed
// input and returns the packed JSON result, unmodified. The lifecycle
// manager is responsible for schema translation on both sides.
func (in *Instance) Invoke(ctx context.Context, funcName string, argsJSON []byte) ([]byte, error) {
	return in.callPacked(ctx, funcName, argsJSON)
}

// callPacked implements the packed-pointer calling convention shared by
// describe() and every guest export: an optional input blob is written to
// guest memory via its allocate() export, the function is called with
// (ptr, len) (or no arguments when input is nil), and the packed (ptr<<32 |
// len) result is read back and deallocated.
func (in *Instance) callPacked(ctx context.Context, funcName string, input []byte) ([]byte, error) {
	fn := in.module.ExportedFunction(funcName)
	if fn == nil {
		return nil, fmt.Errorf("component %s does not export %s()", in.id, funcName)
	}

	ctx = withCallContext(ctx, callContext{componentID: in.id, networkAllowed: in.networkAllowed, callBudget: in.callBudget})

	var results []uint64
	var err error
	if input == nil {
		results, err = fn.Call(ctx)
	} else {
		ptr, writeErr := in.writeMemory(ctx, input)
		if writeErr != nil {
			return nil, fmt.Errorf("write input to %s: %w", in.id, writeErr)
		}
		results, err = fn.Call(ctx, uint64(ptr), uint64(len(input)))
	}
	if err != nil {
		return nil, fmt.Errorf("call %s() on %s: %w", funcName, in.id, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%s() on %s returned no results", funcName, in.id)
	}

	ptr, size := unpackPtrLen(results[0])
	if ptr == 0 || size == 0 {
		return nil, fmt.Errorf("%s() on %s returned an empty result", funcName, in.id)
	}
	return in.readMemory(ctx, ptr, size)
}

func (in *Instance) writeMemory(ctx context.Context, data []byte) (uint32, error) {
	allocate := in.module.ExportedFunction("allocate")
	if allocate == nil {
		return 0, fmt.Errorf("component %s does not export allocate()", in.id)
	}
	results, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("allocate %d bytes: %w", len(data), err)
	}
	if len(results) == 0 || results[0] == 0 {
		return 0, fmt.Errorf("allocate() returned a null pointer")
	}
	ptr := uint32(results[0])
	if !in.module.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("write %d bytes at offset %d", len(data), ptr)
	}
	return ptr, nil
}

func (in *Instance) readMemory(ctx context.Context, ptr, size uint32) ([]byte, error) {
	defer func() {
		if dealloc := in.module.ExportedFunction("deallocate"); dealloc != nil {
			_, _ = dealloc.Call(ctx, uint64(ptr), uint64(size))
		}
	}()

	data, ok := in.module.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("read %d bytes at offset %d", size, ptr)
	}
	out := make([]byte, size)
	copy(out, data)
	return out, nil
}

func packPtrLen(ptr, size uint32) uint64 {
	return uint64(ptr)<<32 | uint64(size)
}

func unpackPtrLen(packed uint64) (ptr, size uint32) {
	return uint32(packed >> 32), uint32(packed & 0xFFFFFFFF)
}
