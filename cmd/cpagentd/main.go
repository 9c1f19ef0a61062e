// Command cpagentd is a single-process demonstration of the control
// plane: it wires an in-memory zone, attaches one agent, drives the
// minimal build-and-install scenario end to end, then waits for an OS
// signal to tear down gracefully.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ynetcp/configplane/agent"
	"github.com/ynetcp/configplane/arena"
	"github.com/ynetcp/configplane/config"
	"github.com/ynetcp/configplane/counter"
	"github.com/ynetcp/configplane/dataplane"
	"github.com/ynetcp/configplane/log"
	"github.com/ynetcp/configplane/publish"
	"github.com/ynetcp/configplane/shm"
)

const zoneSize = shm.ArenaOffset + 4<<20

func main() {
	logger := log.Default("cpagentd")
	logger.Info("cpagentd starting")

	mem := shm.NewInMemoryProvider(zoneSize)
	a, err := arena.New(mem, shm.ArenaOffset, 4<<20)
	if err != nil {
		logger.Fatal("arena init failed", log.Err(err))
	}
	arenaCtx := arena.NewContext(a, "cpagentd")

	dir := dataplane.StaticDirectory{
		Modules: map[string]int{"balancer": 0},
		Devices: map[string]int{"nic": 0},
	}
	alloc := counter.NewPrometheusAllocator(prometheus.NewRegistry())
	gen0 := config.NewGeneration(arenaCtx, dir, alloc)

	dp := dataplane.NewInMemoryDPConfig()
	dp.RegisterWorker(0)
	dp.AdvertiseGen(0, 0)

	installer, err := publish.NewInstaller(mem, dp, gen0)
	if err != nil {
		logger.Fatal("installer init failed", log.Err(err))
	}

	shutdown := newShutdownManager(5*time.Second, logger.With("shutdown"))

	// The real dataplane is a separate worker process that advertises its
	// own generation as it catches up; this single-process demo stands a
	// worker in for it that advertises immediately after every publish so
	// Install's quiescence wait never blocks for long.
	advertiserCtx, stopAdvertiser := context.WithCancel(context.Background())
	go runFakeWorker(advertiserCtx, installer, dp)
	shutdown.Register(func() error {
		stopAdvertiser()
		return nil
	})

	agents := agent.NewRegistry()
	sink := agent.NewRetiredSink()
	client, err := agent.NewClient(agent.ClientConfig{
		Name:        "demo-agent",
		PID:         uint32(os.Getpid()),
		MemoryLimit: 4 << 20,
	}, installer, arenaCtx, agents, sink)
	if err != nil {
		logger.Fatal("client init failed", log.Err(err))
	}
	shutdown.Register(client.Teardown)

	if err := runScenario(context.Background(), logger, client); err != nil {
		logger.Error("scenario failed", log.Err(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	logger.Info("demo scenario complete, waiting for shutdown signal")
	<-sigCh

	if err := shutdown.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown failed", log.Err(err))
		os.Exit(1)
	}
}

// runFakeWorker advertises worker 0's generation as soon as the
// installer publishes a new one, polling since InMemoryDPConfig exposes
// no publish notification of its own.
func runFakeWorker(ctx context.Context, installer *publish.Installer, dp *dataplane.InMemoryDPConfig) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gen, _ := installer.Active()
			dp.AdvertiseGen(0, gen.Number)
		}
	}
}

// runScenario drives the minimal build-and-install scenario: a module,
// a function wrapping it in a single chain, a pipeline running that
// function, and a device that fails to install until its referenced
// pipeline exists, then succeeds.
func runScenario(ctx context.Context, logger *log.Logger, client *agent.Client) error {
	if err := client.UpdateModules(ctx, []config.ModuleConfig{
		{Type: "balancer", Name: "b0"},
	}); err != nil {
		return err
	}
	logger.Info("installed module", log.String("module", "balancer/b0"))

	if err := client.UpdateFunctions(ctx, []config.FunctionConfig{
		{Name: "f0", Chains: []config.ChainConfigWeight{{
			Chain: config.ChainConfig{
				Name:    "c0",
				Modules: []config.ModuleRef{{Type: "balancer", Name: "b0"}},
			},
			Weight: 1,
		}}},
	}); err != nil {
		return err
	}
	logger.Info("installed function", log.String("function", "f0"))

	if err := client.UpdatePipelines(ctx, []config.PipelineConfig{
		{Name: "p0", Functions: []string{"f0"}},
	}); err != nil {
		return err
	}
	logger.Info("installed pipeline", log.String("pipeline", "p0"))

	err := client.UpdateDevices(ctx, []config.DeviceConfig{{
		Name:       "01:00.0",
		DeviceType: "nic",
		InputEntries: []config.PipelineWeightConfig{
			{Pipeline: "p0", Weight: 1},
		},
		OutputEntries: []config.PipelineWeightConfig{
			{Pipeline: "dummy", Weight: 1},
		},
	}})
	if err == nil {
		return errors.New("cpagentd: device install unexpectedly succeeded against a missing pipeline")
	}
	logger.Info("device install correctly rejected missing pipeline", log.Err(err))

	if err := client.UpdatePipelines(ctx, []config.PipelineConfig{
		{Name: "dummy", Functions: nil},
	}); err != nil {
		return err
	}
	logger.Info("installed pipeline", log.String("pipeline", "dummy"))

	if err := client.UpdateDevices(ctx, []config.DeviceConfig{{
		Name:       "01:00.0",
		DeviceType: "nic",
		InputEntries: []config.PipelineWeightConfig{
			{Pipeline: "p0", Weight: 1},
		},
		OutputEntries: []config.PipelineWeightConfig{
			{Pipeline: "dummy", Weight: 1},
		},
	}}); err != nil {
		return err
	}
	logger.Info("installed device", log.String("device", "01:00.0"))

	return nil
}
