package config

import (
	"github.com/ynetcp/configplane/arena"
	"github.com/ynetcp/configplane/counter"
	"github.com/ynetcp/configplane/dataplane"
	"github.com/ynetcp/configplane/diag"
	"github.com/ynetcp/configplane/registry"
)

// Generation is cp_config_gen: one registry per entity kind
// plus the counter-storage binder, and a monotonically increasing
// generation number. It is always mutated by spawning from the current
// active one — Spawn is the only legal way to obtain a mutable
// generation — then applying upserts/deletes, then handing the result to
// the publication protocol to install.
type Generation struct {
	Number uint64

	arenaCtx  arena.Context
	dir       dataplane.Directory
	allocator counter.Allocator
	prev      *Generation

	Binder    *counter.Binder
	Modules   *registry.Registry[Module]
	Functions *registry.Registry[Function]
	Pipelines *registry.Registry[Pipeline]
	Devices   *registry.Registry[Device]

	// Retired holds modules soft-retired out of the registry but not yet
	// reclaimed: data-plane code built against an older generation may
	// still be executing against a module's sub-arena when the registry
	// forgets about it, so it is parked here until an owning
	// agent frees it during its own teardown rather than freed inline.
	Retired []Module
}

// NewGeneration creates the first, empty generation (generation 0) over
// arenaCtx, using dir to resolve module/device types and allocator to
// materialize counter storage.
func NewGeneration(arenaCtx arena.Context, dir dataplane.Directory, allocator counter.Allocator) *Generation {
	return &Generation{
		Number:    0,
		arenaCtx:  arenaCtx,
		dir:       dir,
		allocator: allocator,
		Binder:    counter.NewBinder(allocator),
		Modules:   registry.New(func(m Module) string { return m.Key() }),
		Functions: registry.New(func(f Function) string { return f.Name }),
		Pipelines: registry.New(func(p Pipeline) string { return p.Name }),
		Devices:   registry.New(func(d Device) string { return d.Name }),
	}
}

// Spawn copies every registry from g by reference (ref-bumped, O(capacity))
// and returns a new generation numbered g.Number+1, ready for mutation. The
// binder is cloned rather than started empty: entities copied forward by
// reference and never touched by this generation's Upsert calls still need
// their counter storage to resolve, so every path bound in g carries
// forward until something actually rebuilds it.
func (g *Generation) Spawn() *Generation {
	return &Generation{
		Number:    g.Number + 1,
		arenaCtx:  g.arenaCtx,
		dir:       g.dir,
		allocator: g.allocator,
		prev:      g,
		Binder:    g.Binder.Clone(),
		Modules:   g.Modules.Copy(),
		Functions: g.Functions.Copy(),
		Pipelines: g.Pipelines.Copy(),
		Devices:   g.Devices.Copy(),
	}
}

func (g *Generation) prevBinder() *counter.Binder {
	if g.prev == nil {
		return nil
	}
	return g.prev.Binder
}

// UpsertModules builds each config and replaces (or inserts) it into the
// module registry by key. The whole call is atomic: if any entity fails
// to build, no registry mutation happens and every descriptor already
// allocated earlier in the same call is freed.
func (g *Generation) UpsertModules(cfgs []ModuleConfig) *diag.Stack {
	stack := diag.NewStack()
	built := make([]*Module, 0, len(cfgs))

	for _, cfg := range cfgs {
		m, sub := BuildModule(g.dir, g.arenaCtx, g.Binder, g.prevBinder(), cfg)
		stack.Merge(sub)
		if m == nil {
			g.freeModules(built)
			return stack
		}
		built = append(built, m)
	}

	for _, m := range built {
		if _, err := g.Modules.Replace(m.Key(), moduleCmp, m, func(old Module) {
			g.Retired = append(g.Retired, old)
		}); err != nil {
			stack.Push(diag.NotFound, "upsert_modules", "replacing module "+m.Key(), err)
		}
	}
	return stack
}

func (g *Generation) freeModules(built []*Module) {
	for _, m := range built {
		g.arenaCtx.Free(m.Sub.Base())
	}
}

// DeleteModule removes a module by key, failing if any pipeline in the
// current generation still transitively references it through a
// function's chains.
func (g *Generation) DeleteModule(moduleType, name string) *diag.Stack {
	stack := diag.NewStack()
	key := moduleType + "/" + name

	if g.pipelineReferencesModule(moduleType, name) {
		stack.Push(diag.InUse, "delete_module", "module "+key+" is referenced by a pipeline in the active generation", nil)
		return stack
	}

	_, err := g.Modules.Replace(key, moduleCmp, nil, func(m Module) {
		g.Retired = append(g.Retired, m)
	})
	if err != nil {
		stack.Push(diag.Duplicate, "delete_module", "no such module "+key, err)
	}
	return stack
}

func (g *Generation) pipelineReferencesModule(moduleType, name string) bool {
	for _, p := range g.Pipelines.All() {
		for _, fname := range p.Functions {
			idx, ok := g.Functions.Lookup(fname, functionCmp)
			if !ok {
				continue
			}
			fn, _ := g.Functions.Get(idx)
			for _, cw := range fn.Chains {
				for _, ref := range cw.Chain.Modules {
					if ref.Type == moduleType && ref.Name == name {
						return true
					}
				}
			}
		}
	}
	return false
}

// UpsertFunctions builds and replaces functions by name, same
// all-or-nothing semantics as UpsertModules.
func (g *Generation) UpsertFunctions(cfgs []FunctionConfig) *diag.Stack {
	stack := diag.NewStack()
	built := make([]*Function, 0, len(cfgs))

	for _, cfg := range cfgs {
		f, sub := BuildFunction(g.arenaCtx, g.Binder, g.prevBinder(), cfg, g.Modules)
		stack.Merge(sub)
		if f == nil {
			g.freeFunctions(built)
			return stack
		}
		built = append(built, f)
	}

	for _, f := range built {
		if _, err := g.Functions.Replace(f.Name, functionCmp, f, nil); err != nil {
			stack.Push(diag.NotFound, "upsert_functions", "replacing function "+f.Name, err)
		}
	}
	return stack
}

func (g *Generation) freeFunctions(built []*Function) {
	for _, f := range built {
		g.arenaCtx.Free(f.Addr())
	}
}

// DeleteFunction removes a function by name, failing if any pipeline in
// the current generation directly references it.
func (g *Generation) DeleteFunction(name string) *diag.Stack {
	stack := diag.NewStack()

	for _, p := range g.Pipelines.All() {
		for _, fname := range p.Functions {
			if fname == name {
				stack.Push(diag.InUse, "delete_function", "function "+name+" is referenced by pipeline "+p.Name, nil)
				return stack
			}
		}
	}

	if _, err := g.Functions.Replace(name, functionCmp, nil, func(f Function) {
		g.arenaCtx.Free(f.Addr())
	}); err != nil {
		stack.Push(diag.Duplicate, "delete_function", "no such function "+name, err)
	}
	return stack
}

// UpsertPipelines builds and replaces pipelines by name.
func (g *Generation) UpsertPipelines(cfgs []PipelineConfig) *diag.Stack {
	stack := diag.NewStack()
	built := make([]*Pipeline, 0, len(cfgs))

	for _, cfg := range cfgs {
		p, sub := BuildPipeline(g.arenaCtx, g.Binder, g.prevBinder(), cfg, g.Functions)
		stack.Merge(sub)
		if p == nil {
			g.freePipelines(built)
			return stack
		}
		built = append(built, p)
	}

	for _, p := range built {
		if _, err := g.Pipelines.Replace(p.Name, pipelineCmp, p, nil); err != nil {
			stack.Push(diag.NotFound, "upsert_pipelines", "replacing pipeline "+p.Name, err)
		}
	}
	return stack
}

func (g *Generation) freePipelines(built []*Pipeline) {
	for _, p := range built {
		g.arenaCtx.Free(p.Addr())
	}
}

// DeletePipeline removes a pipeline by name, failing if any device in
// the current generation references it.
func (g *Generation) DeletePipeline(name string) *diag.Stack {
	stack := diag.NewStack()

	for _, d := range g.Devices.All() {
		if pipelineEntryReferences(d.Input, name) || pipelineEntryReferences(d.Output, name) {
			stack.Push(diag.InUse, "delete_pipeline", "pipeline "+name+" is referenced by device "+d.Name, nil)
			return stack
		}
	}

	if _, err := g.Pipelines.Replace(name, pipelineCmp, nil, func(p Pipeline) {
		g.arenaCtx.Free(p.Addr())
	}); err != nil {
		stack.Push(diag.Duplicate, "delete_pipeline", "no such pipeline "+name, err)
	}
	return stack
}

func pipelineEntryReferences(entry DeviceEntry, pipeline string) bool {
	for _, pw := range entry.Pipelines {
		if pw.Pipeline == pipeline {
			return true
		}
	}
	return false
}

// UpsertDevices builds and replaces devices by name.
func (g *Generation) UpsertDevices(cfgs []DeviceConfig) *diag.Stack {
	stack := diag.NewStack()
	built := make([]*Device, 0, len(cfgs))

	for _, cfg := range cfgs {
		d, sub := BuildDevice(g.dir, g.arenaCtx, g.Binder, g.prevBinder(), cfg, g.Pipelines)
		stack.Merge(sub)
		if d == nil {
			g.freeDevices(built)
			return stack
		}
		built = append(built, d)
	}

	for _, d := range built {
		if _, err := g.Devices.Replace(d.Name, deviceCmp, d, nil); err != nil {
			stack.Push(diag.NotFound, "upsert_devices", "replacing device "+d.Name, err)
		}
	}
	return stack
}

func (g *Generation) freeDevices(built []*Device) {
	for _, d := range built {
		g.arenaCtx.Free(d.Addr())
	}
}

// Destroy unrefs every registry in the generation, freeing arena memory
// on last ref. Modules are routed to Retired instead of freed inline
// (soft-retirement) so their owning agent can reclaim them later.
func (g *Generation) Destroy() {
	g.Modules.Destroy(func(m Module) {
		g.Retired = append(g.Retired, m)
	})
	g.Functions.Destroy(func(f Function) { g.arenaCtx.Free(f.Addr()) })
	g.Pipelines.Destroy(func(p Pipeline) { g.arenaCtx.Free(p.Addr()) })
	g.Devices.Destroy(func(d Device) { g.arenaCtx.Free(d.Addr()) })
}

// Discard tears down a candidate generation that failed validation
// before publication. Registries are unreffed as in Destroy, but a
// module whose last reference was the candidate itself was never
// published — no dataplane code can be holding its sub-arena — so it is
// freed directly instead of soft-retired to an agent.
func (g *Generation) Discard() {
	g.Destroy()
	for _, m := range g.Retired {
		g.arenaCtx.Free(m.Sub.Base())
	}
	g.Retired = nil
}

// --- Read-only inspection API ---

func (g *Generation) ModuleList() []Module     { return g.Modules.All() }
func (g *Generation) FunctionList() []Function { return g.Functions.All() }
func (g *Generation) PipelineList() []Pipeline { return g.Pipelines.All() }
func (g *Generation) DeviceList() []Device     { return g.Devices.All() }

// LookupModule returns the registry index for (type, name).
func (g *Generation) LookupModule(moduleType, name string) (int, bool) {
	return g.Modules.Lookup(moduleType+"/"+name, moduleCmp)
}

// GetModule returns the module at a registry index.
func (g *Generation) GetModule(index int) (Module, bool) { return g.Modules.Get(index) }

func (g *Generation) LookupFunction(name string) (int, bool) {
	return g.Functions.Lookup(name, functionCmp)
}

func (g *Generation) GetFunction(index int) (Function, bool) { return g.Functions.Get(index) }

func (g *Generation) LookupPipeline(name string) (int, bool) {
	return g.Pipelines.Lookup(name, pipelineCmp)
}

func (g *Generation) GetPipeline(index int) (Pipeline, bool) { return g.Pipelines.Get(index) }

func (g *Generation) LookupDevice(name string) (int, bool) {
	return g.Devices.Lookup(name, deviceCmp)
}

func (g *Generation) GetDevice(index int) (Device, bool) { return g.Devices.Get(index) }

// ModuleCounterValue reads a named counter at index off a module's
// storage, mirroring the FFI's DPConfig.ModuleCounters read path.
func (g *Generation) ModuleCounterValue(moduleType, name, counterName string, index int) (float64, error) {
	return g.counterValue(counter.ModulePath(moduleType, name), counterName, index)
}

func (g *Generation) FunctionCounterValue(function, counterName string, index int) (float64, error) {
	return g.counterValue(counter.FunctionPath(function), counterName, index)
}

func (g *Generation) ChainCounterValue(function, chain, counterName string, index int) (float64, error) {
	return g.counterValue(counter.ChainPath(function, chain), counterName, index)
}

func (g *Generation) PipelineCounterValue(pipeline, counterName string, index int) (float64, error) {
	return g.counterValue(counter.PipelinePath(pipeline), counterName, index)
}

func (g *Generation) DeviceCounterValue(device, counterName string, index int) (float64, error) {
	return g.counterValue(counter.DevicePath(device), counterName, index)
}

func (g *Generation) counterValue(path counter.PathKey, counterName string, index int) (float64, error) {
	storage, ok := g.Binder.Lookup(path)
	if !ok {
		return 0, registry.ErrNotFound
	}
	return storage.Value(counterName, index)
}
