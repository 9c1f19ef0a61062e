package publish_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ynetcp/configplane/arena"
	"github.com/ynetcp/configplane/config"
	"github.com/ynetcp/configplane/counter"
	"github.com/ynetcp/configplane/dataplane"
	"github.com/ynetcp/configplane/diag"
	"github.com/ynetcp/configplane/publish"
	"github.com/ynetcp/configplane/shm"
)

func newTestInstaller(t *testing.T) (*publish.Installer, *dataplane.InMemoryDPConfig, *shm.InMemoryProvider) {
	t.Helper()
	zoneSize := uint32(shm.ArenaOffset + 1<<20)
	mem := shm.NewInMemoryProvider(zoneSize)

	a, err := arena.New(mem, shm.ArenaOffset, 1<<20)
	require.NoError(t, err)
	arenaCtx := arena.NewContext(a, "test")

	dir := dataplane.StaticDirectory{
		Modules: map[string]int{"balancer": 1},
		Devices: map[string]int{"eth": 1},
	}
	alloc := counter.NewPrometheusAllocator(prometheus.NewRegistry())
	gen0 := config.NewGeneration(arenaCtx, dir, alloc)

	dp := dataplane.NewInMemoryDPConfig()
	dp.RegisterWorker(0)

	installer, err := publish.NewInstaller(mem, dp, gen0)
	require.NoError(t, err)
	return installer, dp, mem
}

func TestInstallPublishesAndWaitsForQuiescence(t *testing.T) {
	installer, dp, mem := newTestInstaller(t)

	installed := make(chan error, 1)
	go func() {
		_, err := installer.Install(context.Background(), func(gen *config.Generation) *diag.Stack {
			return gen.UpsertModules([]config.ModuleConfig{{Type: "balancer", Name: "b0"}})
		})
		installed <- err
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case err := <-installed:
		t.Fatal("install returned before the worker advertised:", err)
	default:
	}
	active, _ := installer.Active()
	assert.Equal(t, uint64(1), active.Number, "publication precedes the quiescence wait, so readers already see the new generation")

	dp.AdvertiseGen(0, 1)

	select {
	case err := <-installed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("install never returned after the worker advertised")
	}

	active, genCtx := installer.Active()
	assert.Equal(t, uint64(1), active.Number)
	assert.Len(t, genCtx.Devices, 0)

	published, err := mem.AtomicLoad32(shm.OffsetActiveGenPtr)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), published)
}

func TestInstallMutateFailureLeavesActiveUnchanged(t *testing.T) {
	installer, _, _ := newTestInstaller(t)

	stack, err := installer.Install(context.Background(), func(gen *config.Generation) *diag.Stack {
		return gen.UpsertModules([]config.ModuleConfig{{Type: "nonexistent", Name: "x"}})
	})

	require.NoError(t, err)
	require.NotNil(t, stack)

	active, _ := installer.Active()
	assert.Equal(t, uint64(0), active.Number)
}

func TestInstallBuildsDeviceAgainstEntitiesFromEarlierGenerations(t *testing.T) {
	installer, dp, _ := newTestInstaller(t)
	dp.AdvertiseGen(0, 100) // let every Install below proceed without blocking

	install := func(mutate func(gen *config.Generation) *diag.Stack) {
		t.Helper()
		stack, err := installer.Install(context.Background(), mutate)
		require.NoError(t, err)
		require.True(t, stack.Empty(), stack.Err())
	}

	install(func(gen *config.Generation) *diag.Stack {
		return gen.UpsertModules([]config.ModuleConfig{{Type: "balancer", Name: "b0", Devices: []string{"eth0"}}})
	})
	install(func(gen *config.Generation) *diag.Stack {
		return gen.UpsertFunctions([]config.FunctionConfig{{
			Name:   "f0",
			Chains: []config.ChainConfigWeight{{Chain: config.ChainConfig{Name: "c0", Modules: []config.ModuleRef{{Type: "balancer", Name: "b0"}}}, Weight: 1}},
		}})
	})
	install(func(gen *config.Generation) *diag.Stack {
		return gen.UpsertPipelines([]config.PipelineConfig{{Name: "p0", Functions: []string{"f0"}}})
	})
	install(func(gen *config.Generation) *diag.Stack {
		return gen.UpsertDevices([]config.DeviceConfig{{
			Name:         "eth0",
			DeviceType:   "eth",
			InputEntries: []config.PipelineWeightConfig{{Pipeline: "p0", Weight: 1}},
		}})
	})

	active, genCtx := installer.Active()
	assert.Equal(t, uint64(4), active.Number, "one generation per successful install")
	require.Len(t, genCtx.Devices, 1)
	assert.Len(t, genCtx.Devices[0].Input.Pipelines, 1)
}
