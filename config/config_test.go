package config_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ynetcp/configplane/arena"
	"github.com/ynetcp/configplane/config"
	"github.com/ynetcp/configplane/counter"
	"github.com/ynetcp/configplane/dataplane"
	"github.com/ynetcp/configplane/diag"
	"github.com/ynetcp/configplane/shm"
)

func newTestGeneration(t *testing.T) *config.Generation {
	t.Helper()
	mem := shm.NewInMemoryProvider(shm.ArenaOffset + 1<<20)
	a, err := arena.New(mem, shm.ArenaOffset, 1<<20)
	require.NoError(t, err)
	ctx := arena.NewContext(a, "test")

	dir := dataplane.StaticDirectory{
		Modules: map[string]int{"balancer": 1, "firewall": 2},
		Devices: map[string]int{"eth": 1},
	}
	alloc := counter.NewPrometheusAllocator(prometheus.NewRegistry())
	return config.NewGeneration(ctx, dir, alloc)
}

func moduleCfg(moduleType, name string) config.ModuleConfig {
	return config.ModuleConfig{Type: moduleType, Name: name}
}

func TestUpsertModulesThenFunctionPipelineDevice(t *testing.T) {
	gen := newTestGeneration(t)

	stack := gen.UpsertModules([]config.ModuleConfig{moduleCfg("balancer", "b0")})
	require.True(t, stack.Empty())
	require.Equal(t, 1, gen.Modules.Len())

	stack = gen.UpsertFunctions([]config.FunctionConfig{{
		Name: "f0",
		Chains: []config.ChainConfigWeight{
			{Chain: config.ChainConfig{Name: "c0", Modules: []config.ModuleRef{{Type: "balancer", Name: "b0"}}}, Weight: 2},
		},
	}})
	require.True(t, stack.Empty())

	fns := gen.FunctionList()
	require.Len(t, fns, 1)
	assert.Equal(t, uint64(2), fns[0].ChainMapSize)

	stack = gen.UpsertPipelines([]config.PipelineConfig{{Name: "p0", Functions: []string{"f0"}}})
	require.True(t, stack.Empty())

	stack = gen.UpsertDevices([]config.DeviceConfig{{
		Name:         "eth0",
		DeviceType:   "eth",
		InputEntries: []config.PipelineWeightConfig{{Pipeline: "p0", Weight: 1}},
	}})
	require.True(t, stack.Empty(), stack.Err())

	devices := gen.DeviceList()
	require.Len(t, devices, 1)
	assert.Equal(t, "p0", devices[0].Input.Pipelines[0].Pipeline)
}

func TestBuiltDescriptorsExposeZoneRelativeAddresses(t *testing.T) {
	gen := newTestGeneration(t)

	require.True(t, gen.UpsertFunctions([]config.FunctionConfig{{Name: "f0"}}).Empty())
	require.True(t, gen.UpsertPipelines([]config.PipelineConfig{{Name: "p0", Functions: []string{"f0"}}}).Empty())

	fns := gen.FunctionList()
	require.Len(t, fns, 1)
	assert.GreaterOrEqual(t, fns[0].Addr(), uint32(shm.ArenaOffset))

	pipelines := gen.PipelineList()
	require.Len(t, pipelines, 1)
	assert.GreaterOrEqual(t, pipelines[0].Addr(), uint32(shm.ArenaOffset))
	assert.NotEqual(t, fns[0].Addr(), pipelines[0].Addr())
}

func TestUpsertModuleUnknownTypeFails(t *testing.T) {
	gen := newTestGeneration(t)
	stack := gen.UpsertModules([]config.ModuleConfig{moduleCfg("nonexistent", "x")})
	assert.False(t, stack.Empty())
}

func TestUpsertFunctionUnknownChainModuleFails(t *testing.T) {
	gen := newTestGeneration(t)
	stack := gen.UpsertFunctions([]config.FunctionConfig{{
		Name: "f0",
		Chains: []config.ChainConfigWeight{
			{Chain: config.ChainConfig{Name: "c0", Modules: []config.ModuleRef{{Type: "balancer", Name: "missing"}}}, Weight: 1},
		},
	}})
	assert.False(t, stack.Empty())
	assert.Equal(t, 0, gen.Functions.Len())
}

func TestUpsertRejectsEmptyNames(t *testing.T) {
	gen := newTestGeneration(t)

	assert.False(t, gen.UpsertModules([]config.ModuleConfig{{Type: "balancer"}}).Empty())
	assert.False(t, gen.UpsertFunctions([]config.FunctionConfig{{Name: ""}}).Empty())
	assert.False(t, gen.UpsertPipelines([]config.PipelineConfig{{Name: ""}}).Empty())
	assert.False(t, gen.UpsertDevices([]config.DeviceConfig{{Name: "", DeviceType: "eth"}}).Empty())

	stack := gen.UpsertFunctions([]config.FunctionConfig{{
		Name: "f0",
		Chains: []config.ChainConfigWeight{
			{Chain: config.ChainConfig{Name: ""}, Weight: 1},
		},
	}})
	assert.False(t, stack.Empty(), "an unnamed chain must be rejected")
	assert.Equal(t, 0, gen.Functions.Len())
}

func TestUpsertRejectsZeroWeights(t *testing.T) {
	gen := newTestGeneration(t)
	require.True(t, gen.UpsertModules([]config.ModuleConfig{moduleCfg("balancer", "b0")}).Empty())

	stack := gen.UpsertFunctions([]config.FunctionConfig{{
		Name: "f0",
		Chains: []config.ChainConfigWeight{
			{Chain: config.ChainConfig{Name: "c0", Modules: []config.ModuleRef{{Type: "balancer", Name: "b0"}}}, Weight: 0},
		},
	}})
	assert.False(t, stack.Empty(), "a zero chain weight must be rejected")
	assert.Equal(t, 0, gen.Functions.Len())

	require.True(t, gen.UpsertFunctions([]config.FunctionConfig{{Name: "f0"}}).Empty())
	require.True(t, gen.UpsertPipelines([]config.PipelineConfig{{Name: "p0", Functions: []string{"f0"}}}).Empty())

	stack = gen.UpsertDevices([]config.DeviceConfig{{
		Name:         "eth0",
		DeviceType:   "eth",
		InputEntries: []config.PipelineWeightConfig{{Pipeline: "p0", Weight: 0}},
	}})
	assert.False(t, stack.Empty(), "a zero pipeline weight must be rejected")
	assert.Equal(t, 0, gen.Devices.Len())
}

func TestUpsertBatchAllOrNothing(t *testing.T) {
	gen := newTestGeneration(t)

	stack := gen.UpsertModules([]config.ModuleConfig{
		moduleCfg("balancer", "b0"),
		moduleCfg("nonexistent", "b1"),
	})
	assert.False(t, stack.Empty())
	// b0 must not have been committed even though it built successfully,
	// since the whole call failed.
	assert.Equal(t, 0, gen.Modules.Len())
}

func buildFullTopology(t *testing.T, gen *config.Generation) {
	t.Helper()
	require.True(t, gen.UpsertModules([]config.ModuleConfig{moduleCfg("balancer", "b0")}).Empty())
	require.True(t, gen.UpsertFunctions([]config.FunctionConfig{{
		Name: "f0",
		Chains: []config.ChainConfigWeight{
			{Chain: config.ChainConfig{Name: "c0", Modules: []config.ModuleRef{{Type: "balancer", Name: "b0"}}}, Weight: 1},
		},
	}}).Empty())
	require.True(t, gen.UpsertPipelines([]config.PipelineConfig{{Name: "p0", Functions: []string{"f0"}}}).Empty())
}

func TestDeleteModuleReferencedByPipelineFailsThenSucceeds(t *testing.T) {
	gen := newTestGeneration(t)
	buildFullTopology(t, gen)

	stack := gen.DeleteModule("balancer", "b0")
	assert.False(t, stack.Empty(), "module still referenced transitively via pipeline p0's function/chain")
	assert.Equal(t, 1, gen.Modules.Len())

	stack = gen.DeletePipeline("p0")
	require.True(t, stack.Empty())

	stack = gen.DeleteFunction("f0")
	require.True(t, stack.Empty())

	stack = gen.DeleteModule("balancer", "b0")
	assert.True(t, stack.Empty())
	assert.Equal(t, 0, gen.Modules.Len())
	require.Len(t, gen.Retired, 1)
	assert.Equal(t, "b0", gen.Retired[0].Name)
}

func TestDeletePipelineReferencedByDeviceFails(t *testing.T) {
	gen := newTestGeneration(t)
	buildFullTopology(t, gen)
	require.True(t, gen.UpsertDevices([]config.DeviceConfig{{
		Name:         "eth0",
		DeviceType:   "eth",
		InputEntries: []config.PipelineWeightConfig{{Pipeline: "p0", Weight: 1}},
	}}).Empty())

	stack := gen.DeletePipeline("p0")
	assert.False(t, stack.Empty())
}

func TestDeleteFunctionReferencedByPipelineFails(t *testing.T) {
	gen := newTestGeneration(t)
	buildFullTopology(t, gen)

	stack := gen.DeleteFunction("f0")
	assert.False(t, stack.Empty())
}

func TestDeleteUnknownEntityFails(t *testing.T) {
	gen := newTestGeneration(t)

	for _, stack := range []*diag.Stack{
		gen.DeleteModule("balancer", "ghost"),
		gen.DeletePipeline("ghost"),
		gen.DeleteFunction("ghost"),
	} {
		require.False(t, stack.Empty())
		assert.Equal(t, diag.Duplicate, stack.Records()[0].Kind, "delete of a missing key surfaces as a duplicate-delete")
	}
}

func TestLookupAndGetMirrorRegistryState(t *testing.T) {
	gen := newTestGeneration(t)
	buildFullTopology(t, gen)

	idx, ok := gen.LookupModule("balancer", "b0")
	require.True(t, ok)
	m, ok := gen.GetModule(idx)
	require.True(t, ok)
	assert.Equal(t, "b0", m.Name)

	idx, ok = gen.LookupFunction("f0")
	require.True(t, ok)
	f, ok := gen.GetFunction(idx)
	require.True(t, ok)
	assert.Equal(t, "f0", f.Name)

	idx, ok = gen.LookupPipeline("p0")
	require.True(t, ok)
	p, ok := gen.GetPipeline(idx)
	require.True(t, ok)
	assert.Equal(t, "p0", p.Name)

	_, ok = gen.LookupModule("balancer", "ghost")
	assert.False(t, ok)
	_, ok = gen.LookupDevice("ghost")
	assert.False(t, ok)
}

func TestSpawnCarriesCounterValuesForward(t *testing.T) {
	gen0 := newTestGeneration(t)
	require.True(t, gen0.UpsertPipelines([]config.PipelineConfig{{Name: "p0"}}).Empty())
	require.NoError(t, mustSetPipelineCounter(t, gen0, "p0", "drop", 7))

	gen1 := gen0.Spawn()
	require.True(t, gen1.UpsertModules([]config.ModuleConfig{moduleCfg("balancer", "b0")}).Empty())

	v, err := gen1.PipelineCounterValue("p0", "drop", 0)
	require.NoError(t, err)
	assert.Equal(t, float64(7), v, "counter identity for an untouched path survives a spawn")
}

func TestReupsertSameStructurePreservesCounters(t *testing.T) {
	gen0 := newTestGeneration(t)
	require.True(t, gen0.UpsertPipelines([]config.PipelineConfig{{Name: "p0"}}).Empty())
	require.NoError(t, mustSetPipelineCounter(t, gen0, "p0", "drop", 42))

	// Rebuilding the identical pipeline in the next generation rebinds the
	// path through the previous binder, so the declaration shapes match and
	// numeric identity carries forward.
	gen1 := gen0.Spawn()
	require.True(t, gen1.UpsertPipelines([]config.PipelineConfig{{Name: "p0"}}).Empty())

	v, err := gen1.PipelineCounterValue("p0", "drop", 0)
	require.NoError(t, err)
	assert.Equal(t, float64(42), v, "a rebuilt path with an unchanged declaration keeps its accumulated values")
}

func mustSetPipelineCounter(t *testing.T, gen *config.Generation, pipeline, name string, v float64) error {
	t.Helper()
	storage, ok := gen.Binder.Lookup(counter.PipelinePath(pipeline))
	require.True(t, ok)
	return storage.Set(name, 0, v)
}
