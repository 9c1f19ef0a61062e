package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"

	"github.com/ynetcp/configplane/arena"
	"github.com/ynetcp/configplane/config"
	"github.com/ynetcp/configplane/diag"
	"github.com/ynetcp/configplane/log"
	"github.com/ynetcp/configplane/publish"
)

// ErrRateLimited is returned when a Client's own submission rate limit
// rejects an update_* call before it ever reaches the installer.
var ErrRateLimited = errors.New("agent: update rate limit exceeded")

// ClientConfig configures a Client.
type ClientConfig struct {
	// Name identifies this agent in the agent registry; several Client
	// instances may share a Name (one agent, several processes).
	Name string
	// PID and MemoryLimit are recorded in the agent registry's instance
	// accounting.
	PID         uint32
	MemoryLimit uint64

	// RateLimitPerSec and RateLimitBurst bound this client's own
	// update_* submission rate. Zero selects a permissive default.
	RateLimitPerSec int
	RateLimitBurst  int

	// BreakerTimeout is how long the circuit stays open after tripping
	// before allowing one probe call through. Zero selects 30s.
	BreakerTimeout time.Duration
}

// Client is the agent-facing update surface. It wraps one
// publish.Installer with a circuit breaker — a wedged quiescence wait
// would otherwise wedge every future config update, so tripping the
// breaker lets callers fail fast instead of queuing on the advisory lock
// forever — and a token-bucket rate limiter throttling how fast this
// agent may submit update_* calls. Soft-retired modules accumulate on
// the Client's own unused list until Teardown reclaims them.
type Client struct {
	name      string
	installer *publish.Installer
	arenaCtx  arena.Context
	agents    *Registry
	sink      *RetiredSink
	handle    *Handle
	log       *log.Logger

	breaker      *gobreaker.CircuitBreaker
	limiter      *limiter.TokenBucket
	limiterStore store.Store

	mu     sync.Mutex
	unused []config.Module
}

// NewClient attaches a new instance of cfg.Name to agents and returns a
// Client driving updates through installer. sink is the zone's shared
// RetiredSink (one per Installer, shared across every Client attached to
// it); NewClient wires it into installer so Install's post-publish
// hand-off has somewhere to route newly soft-retired modules.
func NewClient(cfg ClientConfig, installer *publish.Installer, arenaCtx arena.Context, agents *Registry, sink *RetiredSink) (*Client, error) {
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 100
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = cfg.RateLimitPerSec
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	limiterStore := store.NewMemoryStore(time.Minute)
	tokenBucket, err := limiter.NewTokenBucket(limiter.Config{
		Rate:     int64(cfg.RateLimitPerSec),
		Duration: time.Second,
		Burst:    int64(cfg.RateLimitBurst),
	}, limiterStore)
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "agent." + cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	installer.SetRetireSink(sink.Retire)

	return &Client{
		name:         cfg.Name,
		installer:    installer,
		arenaCtx:     arenaCtx,
		agents:       agents,
		sink:         sink,
		handle:       agents.Attach(cfg.Name, cfg.PID, cfg.MemoryLimit),
		log:          log.Default("agent").With(cfg.Name),
		breaker:      breaker,
		limiter:      tokenBucket,
		limiterStore: limiterStore,
	}, nil
}

// UpdateModules is cp_config_update_modules. Each config is stamped with
// this client's agent name before building, so a module this agent
// creates is always soft-retired back to this agent regardless of which
// agent later deletes or replaces it.
func (c *Client) UpdateModules(ctx context.Context, cfgs []config.ModuleConfig) error {
	owned := make([]config.ModuleConfig, len(cfgs))
	for i, cfg := range cfgs {
		cfg.Owner = c.name
		owned[i] = cfg
	}
	if err := c.update(ctx, "update_modules", func(gen *config.Generation) *diag.Stack {
		return gen.UpsertModules(owned)
	}); err != nil {
		return err
	}

	// Account each installed module's sub-arena against this instance, the
	// Allocated side of the registry's byte accounting; Teardown reports
	// the Freed side when the sub-arenas are finally reclaimed.
	gen, _ := c.installer.Active()
	for _, cfg := range owned {
		idx, ok := gen.LookupModule(cfg.Type, cfg.Name)
		if !ok {
			continue
		}
		if m, ok := gen.GetModule(idx); ok {
			c.handle.addAllocated(uint64(m.Sub.Size()))
		}
	}
	return nil
}

// DeleteModule is cp_config_delete_module.
func (c *Client) DeleteModule(ctx context.Context, moduleType, name string) error {
	return c.update(ctx, "delete_module", func(gen *config.Generation) *diag.Stack {
		return gen.DeleteModule(moduleType, name)
	})
}

// UpdateFunctions is cp_config_update_functions.
func (c *Client) UpdateFunctions(ctx context.Context, cfgs []config.FunctionConfig) error {
	return c.update(ctx, "update_functions", func(gen *config.Generation) *diag.Stack {
		return gen.UpsertFunctions(cfgs)
	})
}

// DeleteFunction is cp_config_delete_function.
func (c *Client) DeleteFunction(ctx context.Context, name string) error {
	return c.update(ctx, "delete_function", func(gen *config.Generation) *diag.Stack {
		return gen.DeleteFunction(name)
	})
}

// UpdatePipelines is cp_config_update_pipelines.
func (c *Client) UpdatePipelines(ctx context.Context, cfgs []config.PipelineConfig) error {
	return c.update(ctx, "update_pipelines", func(gen *config.Generation) *diag.Stack {
		return gen.UpsertPipelines(cfgs)
	})
}

// DeletePipeline is cp_config_delete_pipeline.
func (c *Client) DeletePipeline(ctx context.Context, name string) error {
	return c.update(ctx, "delete_pipeline", func(gen *config.Generation) *diag.Stack {
		return gen.DeletePipeline(name)
	})
}

// UpdateDevices is cp_config_update_devices.
func (c *Client) UpdateDevices(ctx context.Context, cfgs []config.DeviceConfig) error {
	return c.update(ctx, "update_devices", func(gen *config.Generation) *diag.Stack {
		return gen.UpsertDevices(cfgs)
	})
}

// update runs one mutate callback through the rate limiter, the circuit
// breaker, and the installer, in that order. A validation failure
// (mutate's diagnostic stack is non-empty) is a routine, expected
// outcome — it does not count against the breaker, which exists to catch
// infrastructure trouble (an install that never returns because the
// quiescence wait is wedged), not a caller passing a bad config.
func (c *Client) update(ctx context.Context, op string, mutate func(*config.Generation) *diag.Stack) error {
	if !c.limiter.Allow(c.name) {
		return ErrRateLimited
	}

	result, breakerErr := c.breaker.Execute(func() (interface{}, error) {
		stack, err := c.installer.Install(ctx, mutate)
		if err != nil {
			return nil, err
		}
		return stack, nil
	})
	if breakerErr != nil {
		c.log.Error("update rejected", log.String("op", op), log.Err(breakerErr))
		return breakerErr
	}

	if stack, _ := result.(*diag.Stack); stack != nil && !stack.Empty() {
		c.log.Warn("update rejected by validation", log.String("op", op), log.String("correlation_id", stack.CorrelationID))
		return stack.Err()
	}

	c.drainRetired()
	return nil
}

// drainRetired advances this client's advertised generation and pulls
// every module the shared RetiredSink has filed under this client's own
// agent name onto its unused list. Draining from the sink rather than re-reading the
// installer's active generation means this never races a second Client's
// Install publishing ahead of this call (see Installer.SetRetireSink).
func (c *Client) drainRetired() {
	gen, _ := c.installer.Active()
	c.handle.setGen(gen.Number)

	retired := c.sink.Drain(c.name)
	if len(retired) == 0 {
		return
	}
	c.mu.Lock()
	c.unused = append(c.unused, retired...)
	c.mu.Unlock()
}

// UnusedCount reports how many soft-retired modules are waiting on this
// client's teardown to reclaim them.
func (c *Client) UnusedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.unused)
}

// Teardown reclaims every soft-retired module's sub-arena and detaches
// this client's instance from the agent registry. The core never frees a
// module's sub-arena itself — only the owning agent does, here during its
// own teardown — since dataplane code built against an older generation
// may still be reading through it until this point.
func (c *Client) Teardown() error {
	c.mu.Lock()
	unused := c.unused
	c.unused = nil
	c.mu.Unlock()

	var firstErr error
	for _, m := range unused {
		if err := c.arenaCtx.Free(m.Sub.Base()); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			c.log.Error("teardown: failed to free module sub-arena", log.String("module", m.Key()), log.Err(err))
			continue
		}
		c.handle.addFreed(uint64(m.Sub.Size()))
	}

	c.agents.Detach(c.name, c.handle)
	return firstErr
}
