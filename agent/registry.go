// Package agent implements the agent-facing half of the protocol: the
// cp_config_update_modules/delete_module/update_pipelines/... surface,
// plus the agent registry and per-agent soft-retirement "unused module"
// list. Every update call runs one publish.Install under the hood,
// wrapped with a circuit breaker and a rate limiter standing in for
// detecting a wedged worker from outside the core — the core itself has
// no timeout on the quiescence wait, so an agent's own client is the
// layer that refuses to keep submitting into a wedged mutator.
package agent

import (
	"sync"
	"sync/atomic"
)

// Instance mirrors the real control plane's AgentInstanceInfo from the
// reference FFI surface: one attached process of a named agent, with
// the byte accounting the agent reports back to the registry as it
// allocates and frees module sub-arenas.
type Instance struct {
	PID         uint32
	MemoryLimit uint64
	Allocated   uint64
	Freed       uint64
	Gen         uint64
}

// Info is one named agent and every instance currently attached under
// that name, mirroring AgentInfo.
type Info struct {
	Name      string
	Instances []Instance
}

type trackedInstance struct {
	pid         uint32
	memoryLimit uint64
	allocated   uint64
	freed       uint64
	gen         uint64
}

// Registry is the agent registry reachable from the zone header at
// shm.OffsetAgentRegistryPtr: every attached agent and its instance
// accounting.
type Registry struct {
	mu     sync.Mutex
	agents map[string][]*trackedInstance
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string][]*trackedInstance)}
}

// Handle is the per-instance accounting cell a Client updates as it
// builds and retires descriptors and advances generations.
type Handle struct {
	instance *trackedInstance
}

func (h *Handle) addAllocated(n uint64) { atomic.AddUint64(&h.instance.allocated, n) }
func (h *Handle) addFreed(n uint64)     { atomic.AddUint64(&h.instance.freed, n) }
func (h *Handle) setGen(gen uint64)     { atomic.StoreUint64(&h.instance.gen, gen) }

// Attach registers a new instance of the named agent and returns the
// handle its Client uses to keep accounting current. Re-attaching under
// the same name adds a second instance, matching the real registry's
// "one agent, many instances" shape (one controller process restarted,
// or several processes sharing an agent name).
func (r *Registry) Attach(name string, pid uint32, memoryLimit uint64) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst := &trackedInstance{pid: pid, memoryLimit: memoryLimit}
	r.agents[name] = append(r.agents[name], inst)
	return &Handle{instance: inst}
}

// Detach removes the instance backing h from the registry, run during an
// agent's own teardown.
func (r *Registry) Detach(name string, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	instances := r.agents[name]
	for i, inst := range instances {
		if inst == h.instance {
			r.agents[name] = append(instances[:i], instances[i+1:]...)
			break
		}
	}
	if len(r.agents[name]) == 0 {
		delete(r.agents, name)
	}
}

// List snapshots every attached agent and its instances, mirroring the
// FFI's DPConfig.Agents() read path.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.agents))
	for name, instances := range r.agents {
		snap := make([]Instance, 0, len(instances))
		for _, inst := range instances {
			snap = append(snap, Instance{
				PID:         inst.pid,
				MemoryLimit: inst.memoryLimit,
				Allocated:   atomic.LoadUint64(&inst.allocated),
				Freed:       atomic.LoadUint64(&inst.freed),
				Gen:         atomic.LoadUint64(&inst.gen),
			})
		}
		out = append(out, Info{Name: name, Instances: snap})
	}
	return out
}
