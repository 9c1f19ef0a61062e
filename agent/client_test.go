package agent_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ynetcp/configplane/agent"
	"github.com/ynetcp/configplane/arena"
	"github.com/ynetcp/configplane/config"
	"github.com/ynetcp/configplane/counter"
	"github.com/ynetcp/configplane/dataplane"
	"github.com/ynetcp/configplane/publish"
	"github.com/ynetcp/configplane/shm"
)

func newTestClient(t *testing.T) (*agent.Client, *agent.Registry, *dataplane.InMemoryDPConfig) {
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
	dp.AdvertiseGen(0, 0)

	installer, err := publish.NewInstaller(mem, dp, gen0)
	require.NoError(t, err)

	agents := agent.NewRegistry()
	sink := agent.NewRetiredSink()
	client, err := agent.NewClient(agent.ClientConfig{Name: "a0", PID: 1234}, installer, arenaCtx, agents, sink)
	require.NoError(t, err)

	return client, agents, dp
}

// advertiseAfterInstall keeps the single worker's generation counter one
// step ahead so every Install in this test returns without blocking.
func advertiseAfterInstall(dp *dataplane.InMemoryDPConfig, gen uint64) {
	dp.AdvertiseGen(0, gen)
}

func TestClientUpdateModulesRegistersInAgentRegistry(t *testing.T) {
	client, agents, dp := newTestClient(t)

	done := make(chan error, 1)
	go func() {
		done <- client.UpdateModules(context.Background(), []config.ModuleConfig{{Type: "balancer", Name: "b0"}})
	}()
	advertiseAfterInstall(dp, 1)
	require.NoError(t, <-done)

	list := agents.List()
	require.Len(t, list, 1)
	assert.Equal(t, "a0", list[0].Name)
	require.Len(t, list[0].Instances, 1)
	assert.Equal(t, uint64(1), list[0].Instances[0].Gen)
	assert.NotZero(t, list[0].Instances[0].Allocated, "installed module's sub-arena bytes are accounted to the instance")
}

func TestClientDeleteModuleSoftRetiresOntoUnusedList(t *testing.T) {
	client, _, dp := newTestClient(t)

	done := make(chan error, 1)
	go func() {
		done <- client.UpdateModules(context.Background(), []config.ModuleConfig{{Type: "balancer", Name: "b0"}})
	}()
	advertiseAfterInstall(dp, 1)
	require.NoError(t, <-done)

	assert.Equal(t, 0, client.UnusedCount())

	go func() {
		done <- client.DeleteModule(context.Background(), "balancer", "b0")
	}()
	advertiseAfterInstall(dp, 2)
	require.NoError(t, <-done)

	assert.Equal(t, 1, client.UnusedCount(), "deleted module must be parked on the unused list, not freed inline")

	require.NoError(t, client.Teardown())
	assert.Equal(t, 0, client.UnusedCount())
}

func TestClientDeleteModuleInUseFails(t *testing.T) {
	client, _, dp := newTestClient(t)

	done := make(chan error, 1)
	go func() {
		done <- client.UpdateModules(context.Background(), []config.ModuleConfig{{Type: "balancer", Name: "b0"}})
	}()
	advertiseAfterInstall(dp, 1)
	require.NoError(t, <-done)

	go func() {
		done <- client.UpdateFunctions(context.Background(), []config.FunctionConfig{
			{Name: "f0", Chains: []config.ChainConfigWeight{{
				Chain:  config.ChainConfig{Name: "c0", Modules: []config.ModuleRef{{Type: "balancer", Name: "b0"}}},
				Weight: 1,
			}}},
		})
	}()
	advertiseAfterInstall(dp, 2)
	require.NoError(t, <-done)

	go func() {
		done <- client.UpdatePipelines(context.Background(), []config.PipelineConfig{{Name: "p0", Functions: []string{"f0"}}})
	}()
	advertiseAfterInstall(dp, 3)
	require.NoError(t, <-done)

	go func() {
		done <- client.DeleteModule(context.Background(), "balancer", "b0")
	}()
	advertiseAfterInstall(dp, 3)
	err := <-done
	require.Error(t, err, "module is transitively referenced by pipeline p0 through f0/c0")
}
