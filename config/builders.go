package config

import (
	"github.com/ynetcp/configplane/arena"
	"github.com/ynetcp/configplane/counter"
	"github.com/ynetcp/configplane/dataplane"
	"github.com/ynetcp/configplane/diag"
	"github.com/ynetcp/configplane/registry"
)

// Builders allocate the descriptor in one shot from the generation's
// arena context and register the entity's canonical counters. The arena
// allocation produces the descriptor's real zone-relative address, which
// each entity carries forward as a self-relative arena.OffsetPtr rather
// than a bare integer — the Go struct itself still lives on the process
// heap and is reached through the registry, since this module never
// serializes the descriptor's own field layout into arena bytes, but the
// address identifying that descriptor's arena-accounted region is a real
// offset pointer, not decoration. On any failure the caller's arena
// allocation is freed before the diagnostic is returned: partially built
// descriptors are always freed before return.

const (
	moduleDescriptorSize   = 96
	chainDescriptorSize    = 48
	functionDescriptorSize = 64
	pipelineDescriptorSize = 48
	deviceDescriptorSize   = 96
)

// BuildModule resolves cfg.Type against dir, allocates the descriptor,
// and registers canonical counters via binder.
func BuildModule(dir dataplane.Directory, ctx arena.Context, binder *counter.Binder, prevBinder *counter.Binder, cfg ModuleConfig) (*Module, *diag.Stack) {
	stack := diag.NewStack()

	if cfg.Type == "" || cfg.Name == "" {
		stack.Push(diag.InvalidConfig, "build_module", "module type and name must be non-empty", nil)
		return nil, stack
	}

	dpIndex, ok := dir.LookupModule(cfg.Type)
	if !ok {
		stack.Push(diag.NotFound, "build_module", "module type does not resolve in dataplane directory: "+cfg.Type, nil)
		return nil, stack
	}

	addr, err := ctx.Allocate(moduleDescriptorSize)
	if err != nil {
		stack.Push(diag.OutOfArena, "build_module", "allocating module descriptor", err)
		return nil, stack
	}

	path := counter.ModulePath(cfg.Type, cfg.Name)
	declared := moduleCounters(path)
	if _, err := binder.Bind(path, prevBinder, declared); err != nil {
		ctx.Free(addr)
		stack.Push(diag.CounterSpawnFailed, "build_module", "spawning counter storage for "+path.String(), err)
		return nil, stack
	}

	sub := arena.NewSubArena(addr, moduleDescriptorSize)

	return &Module{
		Type:          cfg.Type,
		Name:          cfg.Name,
		DPModuleIndex: dpIndex,
		Devices:       append([]string(nil), cfg.Devices...),
		Sub:           sub,
		descPtr:       arena.NewOffsetPtr[Module](0, int64(addr)),
		Owner:         cfg.Owner,
	}, stack
}

// BuildChain validates every module reference against modules and
// allocates the chain's descriptor. Chains have no standalone free path
// of their own: they are freed as part of their owning function's
// descriptor, since chains are inlined into it.
func BuildChain(ctx arena.Context, binder *counter.Binder, prevBinder *counter.Binder, functionName string, cfg ChainConfig, modules *registry.Registry[Module]) (*Chain, *diag.Stack) {
	stack := diag.NewStack()

	if cfg.Name == "" {
		stack.Push(diag.InvalidConfig, "build_chain", "chain name must be non-empty", nil)
		return nil, stack
	}

	for _, ref := range cfg.Modules {
		if _, ok := modules.Lookup(ref.Type+"/"+ref.Name, moduleCmp); !ok {
			stack.Push(diag.NotFound, "build_chain", "chain "+cfg.Name+" references unknown module "+ref.Type+"/"+ref.Name, nil)
			return nil, stack
		}
	}

	addr, err := ctx.Allocate(chainDescriptorSize)
	if err != nil {
		stack.Push(diag.OutOfArena, "build_chain", "allocating chain descriptor for "+cfg.Name, err)
		return nil, stack
	}

	path := counter.ChainPath(functionName, cfg.Name)
	declared := chainCounters(path)
	if _, err := binder.Bind(path, prevBinder, declared); err != nil {
		ctx.Free(addr)
		stack.Push(diag.CounterSpawnFailed, "build_chain", "spawning counter storage for "+path.String(), err)
		return nil, stack
	}

	return &Chain{
		Name:    cfg.Name,
		Modules: append([]ModuleRef(nil), cfg.Modules...),
	}, stack
}

// BuildFunction builds each chain in turn, accumulating ChainMapSize as
// the sum of weights.
func BuildFunction(ctx arena.Context, binder *counter.Binder, prevBinder *counter.Binder, cfg FunctionConfig, modules *registry.Registry[Module]) (*Function, *diag.Stack) {
	stack := diag.NewStack()

	if cfg.Name == "" {
		stack.Push(diag.InvalidConfig, "build_function", "function name must be non-empty", nil)
		return nil, stack
	}
	for _, cw := range cfg.Chains {
		if cw.Weight == 0 {
			stack.Push(diag.InvalidConfig, "build_function", "chain "+cw.Chain.Name+" in function "+cfg.Name+" must carry a positive weight", nil)
			return nil, stack
		}
	}

	addr, err := ctx.Allocate(functionDescriptorSize)
	if err != nil {
		stack.Push(diag.OutOfArena, "build_function", "allocating function descriptor for "+cfg.Name, err)
		return nil, stack
	}

	chains := make([]ChainWeight, 0, len(cfg.Chains))
	var total uint64
	for _, cw := range cfg.Chains {
		chain, chainStack := BuildChain(ctx, binder, prevBinder, cfg.Name, cw.Chain, modules)
		stack.Merge(chainStack)
		if chain == nil {
			ctx.Free(addr)
			return nil, stack
		}
		chains = append(chains, ChainWeight{Chain: *chain, Weight: cw.Weight})
		total += cw.Weight
	}

	path := counter.FunctionPath(cfg.Name)
	declared := functionCounters(path)
	if _, err := binder.Bind(path, prevBinder, declared); err != nil {
		ctx.Free(addr)
		stack.Push(diag.CounterSpawnFailed, "build_function", "spawning counter storage for "+path.String(), err)
		return nil, stack
	}

	return &Function{
		Name:         cfg.Name,
		Chains:       chains,
		ChainMapSize: total,
		descPtr:      arena.NewOffsetPtr[Function](0, int64(addr)),
	}, stack
}

// BuildPipeline validates each function name against functions, the
// *new* generation's function registry.
func BuildPipeline(ctx arena.Context, binder *counter.Binder, prevBinder *counter.Binder, cfg PipelineConfig, functions *registry.Registry[Function]) (*Pipeline, *diag.Stack) {
	stack := diag.NewStack()

	if cfg.Name == "" {
		stack.Push(diag.InvalidConfig, "build_pipeline", "pipeline name must be non-empty", nil)
		return nil, stack
	}

	for _, name := range cfg.Functions {
		if _, ok := functions.Lookup(name, functionCmp); !ok {
			stack.Push(diag.NotFound, "build_pipeline", "pipeline "+cfg.Name+" references unknown function "+name, nil)
			return nil, stack
		}
	}

	addr, err := ctx.Allocate(pipelineDescriptorSize)
	if err != nil {
		stack.Push(diag.OutOfArena, "build_pipeline", "allocating pipeline descriptor for "+cfg.Name, err)
		return nil, stack
	}

	path := counter.PipelinePath(cfg.Name)
	declared := pipelineCounters(path)
	if _, err := binder.Bind(path, prevBinder, declared); err != nil {
		ctx.Free(addr)
		stack.Push(diag.CounterSpawnFailed, "build_pipeline", "spawning counter storage for "+path.String(), err)
		return nil, stack
	}

	return &Pipeline{
		Name:      cfg.Name,
		Functions: append([]string(nil), cfg.Functions...),
		descPtr:   arena.NewOffsetPtr[Pipeline](0, int64(addr)),
	}, stack
}

// BuildDevice validates dpIndex via dir, then copies the pipeline+weight
// lists for both entries; weight expansion is deferred to the execution
// context.
func BuildDevice(dir dataplane.Directory, ctx arena.Context, binder *counter.Binder, prevBinder *counter.Binder, cfg DeviceConfig, pipelines *registry.Registry[Pipeline]) (*Device, *diag.Stack) {
	stack := diag.NewStack()

	if cfg.Name == "" {
		stack.Push(diag.InvalidConfig, "build_device", "device name must be non-empty", nil)
		return nil, stack
	}

	dpIndex, ok := dir.LookupDevice(cfg.DeviceType)
	if !ok {
		stack.Push(diag.NotFound, "build_device", "device type does not resolve in dataplane directory: "+cfg.DeviceType, nil)
		return nil, stack
	}

	for _, entries := range [][]PipelineWeightConfig{cfg.InputEntries, cfg.OutputEntries} {
		for _, pw := range entries {
			if pw.Weight == 0 {
				stack.Push(diag.InvalidConfig, "build_device", "pipeline "+pw.Pipeline+" in device "+cfg.Name+" must carry a positive weight", nil)
				return nil, stack
			}
			if _, ok := pipelines.Lookup(pw.Pipeline, pipelineCmp); !ok {
				stack.Push(diag.NotFound, "build_device", "device "+cfg.Name+" references unknown pipeline "+pw.Pipeline, nil)
				return nil, stack
			}
		}
	}

	addr, err := ctx.Allocate(deviceDescriptorSize)
	if err != nil {
		stack.Push(diag.OutOfArena, "build_device", "allocating device descriptor for "+cfg.Name, err)
		return nil, stack
	}

	path := counter.DevicePath(cfg.Name)
	declared := deviceCounters(path)
	if _, err := binder.Bind(path, prevBinder, declared); err != nil {
		ctx.Free(addr)
		stack.Push(diag.CounterSpawnFailed, "build_device", "spawning counter storage for "+path.String(), err)
		return nil, stack
	}

	return &Device{
		Name:          cfg.Name,
		DPDeviceIndex: dpIndex,
		Input:         deviceEntry(cfg.InputEntries),
		Output:        deviceEntry(cfg.OutputEntries),
		descPtr:       arena.NewOffsetPtr[Device](0, int64(addr)),
	}, stack
}

func deviceEntry(entries []PipelineWeightConfig) DeviceEntry {
	pipelines := make([]PipelineWeight, 0, len(entries))
	for _, e := range entries {
		pipelines = append(pipelines, PipelineWeight{Pipeline: e.Pipeline, Weight: e.Weight})
	}
	return DeviceEntry{Pipelines: pipelines}
}
