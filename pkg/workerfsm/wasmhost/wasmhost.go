// Package wasmhost loads and runs the compiled WASM component backing a
// worker. It is grounded on the teacher pack's only WASM runtime example
// (inos_v1's wasm.Execute: Engine/Store/Module/Instance/GetFunction), scaled
// from "run one exported main function" up to "load a component once,
// invoke many named exports against it, and let workerfsm's durability
// wrapper bracket each host-import call site".
package wasmhost

import (
	"context"
	"fmt"
	"sync"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// HostFunc is a single host-import implementation exposed to the guest
// component, registered into the wasmer ImportObject under (module, name).
// Fn is handed the context of the Invoke call currently driving the guest,
// so a durability-wrapped Fn (see DurableImports) can thread it through to
// Durability.Wrap without the wasmer-go callback signature itself carrying
// one.
type HostFunc struct {
	Module string
	Name   string
	Sig    *wasmer.FunctionType
	Fn     func(ctx context.Context, args []wasmer.Value) ([]wasmer.Value, error)
}

// Component is one loaded, instantiated WASM component. A Component is
// instantiated once per worker startup (live run or replay); state held in
// its linear memory is exactly the state a snapshot or replay reconstructs.
type Component struct {
	store    *wasmer.Store
	module   *wasmer.Module
	instance *wasmer.Instance

	mu        sync.Mutex
	activeCtx context.Context
}

// Load compiles wasmBytes and instantiates it against the given host
// imports, returning a ready-to-invoke Component.
func Load(wasmBytes []byte, imports []HostFunc) (*Component, error) {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)

	module, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("wasmhost: compile module: %w", err)
	}

	c := &Component{store: store, module: module}

	importObject := wasmer.NewImportObject()
	byModule := make(map[string]map[string]wasmer.IntoExtern)
	for _, hf := range imports {
		fn := hf
		wasmerFn := wasmer.NewFunction(store, fn.Sig, func(args []wasmer.Value) ([]wasmer.Value, error) {
			ctx := c.activeCtx
			if ctx == nil {
				ctx = context.Background()
			}
			return fn.Fn(ctx, args)
		})
		if byModule[fn.Module] == nil {
			byModule[fn.Module] = make(map[string]wasmer.IntoExtern)
		}
		byModule[fn.Module][fn.Name] = wasmerFn
	}
	for mod, fns := range byModule {
		importObject.Register(mod, fns)
	}

	instance, err := wasmer.NewInstance(module, importObject)
	if err != nil {
		return nil, fmt.Errorf("wasmhost: instantiate module: %w", err)
	}

	c.instance = instance
	return c, nil
}

// Invoke calls the named export, passing args positionally. Only a single
// invocation runs against a Component's instance at a time: components are
// not assumed to be reentrant. ctx is bound to the component for the
// duration of the call so nested host-import calls (see HostFunc.Fn) can
// read it back without the wasmer callback signature carrying one.
func (c *Component) Invoke(ctx context.Context, export string, args ...any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeCtx = ctx
	defer func() { c.activeCtx = nil }()

	fn, err := c.instance.Exports.GetFunction(export)
	if err != nil {
		return nil, fmt.Errorf("wasmhost: export %q not found: %w", export, err)
	}
	result, err := fn(args...)
	if err != nil {
		return nil, fmt.Errorf("wasmhost: export %q trapped: %w", export, err)
	}
	return result, nil
}

// GrowMemory grows the component's linear memory by delta pages and returns
// the previous size, used by the durability layer to record a
// GrowMemoryEntry so replay can reproduce identical memory geometry.
func (c *Component) GrowMemory(delta uint32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mem, err := c.instance.Exports.GetMemory("memory")
	if err != nil {
		return 0, fmt.Errorf("wasmhost: no exported memory: %w", err)
	}
	before := mem.DataSize()
	if !mem.Grow(wasmer.Pages(delta)) {
		return 0, fmt.Errorf("wasmhost: memory grow by %d pages rejected", delta)
	}
	return uint32(before), nil
}
