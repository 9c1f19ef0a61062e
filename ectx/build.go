package ectx

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ynetcp/configplane/config"
	"github.com/ynetcp/configplane/counter"
)

// ErrInconsistentGeneration is returned when a generation's own
// cross-references fail to resolve while building its execution
// context — a logic error, since every reference was validated when the
// entity was built; it should never happen against a
// generation this module itself produced.
var ErrInconsistentGeneration = errors.New("ectx: generation has an unresolved reference")

// moduleCtxSet builds each distinct module's ModuleCtx exactly once,
// shared by every chain across every device that references it, guarded
// for concurrent pass-1 fan-out.
type moduleCtxSet struct {
	mu    sync.Mutex
	byKey map[string]*ModuleCtx
	gen   *config.Generation
}

func newModuleCtxSet(gen *config.Generation) *moduleCtxSet {
	return &moduleCtxSet{byKey: make(map[string]*ModuleCtx), gen: gen}
}

func (s *moduleCtxSet) get(ref config.ModuleRef) (*ModuleCtx, error) {
	key := ref.Type + "/" + ref.Name
	s.mu.Lock()
	defer s.mu.Unlock()

	if mc, ok := s.byKey[key]; ok {
		return mc, nil
	}

	m, ok := moduleByKey(s.gen, key)
	if !ok {
		return nil, ErrInconsistentGeneration
	}

	storage, ok := s.gen.Binder.Lookup(counter.ModulePath(m.Type, m.Name))
	if !ok {
		return nil, ErrInconsistentGeneration
	}

	mc := &ModuleCtx{Module: m, Storage: storage}
	s.byKey[key] = mc
	return mc, nil
}

func moduleByKey(gen *config.Generation, key string) (config.Module, bool) {
	for _, m := range gen.ModuleList() {
		if m.Key() == key {
			return m, true
		}
	}
	return config.Module{}, false
}

func functionByName(gen *config.Generation, name string) (config.Function, bool) {
	for _, f := range gen.FunctionList() {
		if f.Name == name {
			return f, true
		}
	}
	return config.Function{}, false
}

func pipelineByName(gen *config.Generation, name string) (config.Pipeline, bool) {
	for _, p := range gen.PipelineList() {
		if p.Name == name {
			return p, true
		}
	}
	return config.Pipeline{}, false
}

// Build constructs the whole execution context for gen in two passes
//: pass 1 builds every DeviceCtx concurrently via errgroup
// since devices are otherwise independent; pass 2 walks the finished
// tree to fill each ModuleCtx's McIndex/CmIndex, which depend on the
// complete device list.
func Build(gen *config.Generation) (*GenerationCtx, error) {
	devices := gen.DeviceList()
	modules := newModuleCtxSet(gen)

	deviceCtxs := make([]*DeviceCtx, len(devices))

	g, _ := errgroup.WithContext(context.Background())
	for i, d := range devices {
		i, d := i, d
		g.Go(func() error {
			dc, err := buildDeviceCtx(gen, modules, d, i)
			if err != nil {
				return err
			}
			deviceCtxs[i] = dc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Every registered module gets an execution context, not only the ones
	// some chain currently reaches through a device: the cross-index
	// arrays describe the module against the generation's device set, and
	// must exist even while no pipeline wires the module in.
	for _, m := range gen.ModuleList() {
		if _, err := modules.get(config.ModuleRef{Type: m.Type, Name: m.Name}); err != nil {
			return nil, err
		}
	}

	genCtx := &GenerationCtx{Generation: gen, Devices: deviceCtxs, Modules: modules.byKey}
	fillCrossIndices(genCtx)
	return genCtx, nil
}

func buildDeviceCtx(gen *config.Generation, modules *moduleCtxSet, d config.Device, index int) (*DeviceCtx, error) {
	storage, ok := gen.Binder.Lookup(counter.DevicePath(d.Name))
	if !ok {
		return nil, ErrInconsistentGeneration
	}

	input, err := buildDeviceEntryCtx(gen, modules, d.Input)
	if err != nil {
		return nil, err
	}
	output, err := buildDeviceEntryCtx(gen, modules, d.Output)
	if err != nil {
		return nil, err
	}

	return &DeviceCtx{Device: d, Index: index, Storage: storage, Input: input, Output: output}, nil
}

func buildDeviceEntryCtx(gen *config.Generation, modules *moduleCtxSet, entry config.DeviceEntry) (*DeviceEntryCtx, error) {
	pipelines := make([]*PipelineCtx, 0, len(entry.Pipelines))
	var pipelineMap []*PipelineCtx

	for _, pw := range entry.Pipelines {
		pc, err := buildPipelineCtx(gen, modules, pw.Pipeline)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, pc)
		for w := uint64(0); w < pw.Weight; w++ {
			pipelineMap = append(pipelineMap, pc)
		}
	}

	return &DeviceEntryCtx{Pipelines: pipelines, PipelineMap: pipelineMap}, nil
}

func buildPipelineCtx(gen *config.Generation, modules *moduleCtxSet, name string) (*PipelineCtx, error) {
	p, ok := pipelineByName(gen, name)
	if !ok {
		return nil, ErrInconsistentGeneration
	}
	storage, ok := gen.Binder.Lookup(counter.PipelinePath(name))
	if !ok {
		return nil, ErrInconsistentGeneration
	}

	functions := make([]*FunctionCtx, 0, len(p.Functions))
	for _, fname := range p.Functions {
		fc, err := buildFunctionCtx(gen, modules, fname)
		if err != nil {
			return nil, err
		}
		functions = append(functions, fc)
	}

	return &PipelineCtx{Pipeline: p, Storage: storage, Functions: functions}, nil
}

func buildFunctionCtx(gen *config.Generation, modules *moduleCtxSet, name string) (*FunctionCtx, error) {
	f, ok := functionByName(gen, name)
	if !ok {
		return nil, ErrInconsistentGeneration
	}
	storage, ok := gen.Binder.Lookup(counter.FunctionPath(name))
	if !ok {
		return nil, ErrInconsistentGeneration
	}

	chains := make([]*ChainCtx, 0, len(f.Chains))
	var chainMap []*ChainCtx
	for _, cw := range f.Chains {
		cc, err := buildChainCtx(gen, modules, name, cw)
		if err != nil {
			return nil, err
		}
		chains = append(chains, cc)
		for w := uint64(0); w < cw.Weight; w++ {
			chainMap = append(chainMap, cc)
		}
	}

	return &FunctionCtx{Function: f, Storage: storage, Chains: chains, ChainMap: chainMap}, nil
}

func buildChainCtx(gen *config.Generation, modules *moduleCtxSet, functionName string, cw config.ChainWeight) (*ChainCtx, error) {
	storage, ok := gen.Binder.Lookup(counter.ChainPath(functionName, cw.Chain.Name))
	if !ok {
		return nil, ErrInconsistentGeneration
	}

	resolved := make([]*ModuleCtx, 0, len(cw.Chain.Modules))
	for _, ref := range cw.Chain.Modules {
		mc, err := modules.get(ref)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, mc)
	}

	return &ChainCtx{Chain: cw.Chain, Storage: storage, Modules: resolved, Weight: cw.Weight}, nil
}

// fillCrossIndices is pass 2: for each module, compute
// McIndex (module's declared device names -> generation device index)
// and CmIndex (generation device index -> module's own device-list
// slot), both sized and computed now that genCtx.Devices is complete.
func fillCrossIndices(genCtx *GenerationCtx) {
	deviceIndexByName := make(map[string]int, len(genCtx.Devices))
	for _, dc := range genCtx.Devices {
		deviceIndexByName[dc.Device.Name] = dc.Index
	}

	for _, mc := range genCtx.Modules {
		mc.McIndex = make([]int, len(mc.Module.Devices))
		for i, name := range mc.Module.Devices {
			if idx, ok := deviceIndexByName[name]; ok {
				mc.McIndex[i] = idx
			} else {
				mc.McIndex[i] = -1
			}
		}

		mc.CmIndex = make([]int, len(genCtx.Devices))
		for d, dc := range genCtx.Devices {
			slot := 0
			for i, name := range mc.Module.Devices {
				if name == dc.Device.Name {
					slot = i
					break
				}
			}
			mc.CmIndex[d] = slot
		}
	}
}
