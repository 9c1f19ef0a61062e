// Package config implements the five registered entity kinds (modules,
// chains, functions, pipelines, devices) and cp_config_gen, the
// generation that holds one registry per kind plus the counter-storage
// binder.
package config

import (
	"github.com/ynetcp/configplane/arena"
)

// ModuleRef names a module by its registry key, the way a chain
// references one before resolution: an ordered sequence of
// (module-type, module-name) references.
type ModuleRef struct {
	Type string
	Name string
}

// Module is the built cp_module descriptor.
type Module struct {
	Type          string
	Name          string
	DPModuleIndex int
	Devices       []string
	Sub           *arena.SubArena

	// descPtr is the module descriptor's address, carried as a genuine
	// self-relative offset pointer anchored at the zone's own origin
	// rather than a bare integer: resolving it yields the same address
	// no matter where the zone is mapped in a given process's address
	// space, exactly like every other pointer a dataplane worker follows
	// into the zone.
	descPtr arena.OffsetPtr[Module]

	// Owner names the agent whose update_modules call built this module.
	// Soft-retirement hands a removed module back to its owning agent, so
	// the module carries that identity forward from build time rather
	// than the delete call's caller, which may not be the agent that
	// created it.
	Owner string
}

// Key is the (type, name) registry key.
func (m Module) Key() string { return m.Type + "/" + m.Name }

// Addr resolves the module descriptor's zone-relative address.
func (m Module) Addr() uint32 { return resolveDescAddr(m.descPtr) }

func moduleCmp(m Module, key string) bool { return m.Key() == key }

// Chain is a cp_chain, inlined by value into the function that owns it.
// Chain names are unique only within their owning function, so chains
// never get a standalone top-level registry or update/delete call of
// their own — there is no cp_config_update_chains/cp_config_delete_chain.
type Chain struct {
	Name    string
	Modules []ModuleRef
}

// ChainWeight pairs a chain with its positive weight within a function.
type ChainWeight struct {
	Chain  Chain
	Weight uint64
}

// Function is a cp_function: an ordered sequence of (chain, weight)
// pairs plus the flat weight-map length W those weights sum to.
type Function struct {
	Name         string
	Chains       []ChainWeight
	ChainMapSize uint64
	descPtr      arena.OffsetPtr[Function]
}

// Addr resolves the function descriptor's zone-relative address.
func (f Function) Addr() uint32 { return resolveDescAddr(f.descPtr) }

func functionCmp(f Function, key string) bool { return f.Name == key }

// Pipeline is a cp_pipeline: an ordered sequence of function names.
type Pipeline struct {
	Name      string
	Functions []string
	descPtr   arena.OffsetPtr[Pipeline]
}

// Addr resolves the pipeline descriptor's zone-relative address.
func (p Pipeline) Addr() uint32 { return resolveDescAddr(p.descPtr) }

func pipelineCmp(p Pipeline, key string) bool { return p.Name == key }

// PipelineWeight pairs a pipeline name with its positive weight within a
// device_entry.
type PipelineWeight struct {
	Pipeline string
	Weight   uint64
}

// DeviceEntry is one of a device's two entries (input or output): an
// ordered sequence of (pipeline-name, weight) pairs.
type DeviceEntry struct {
	Pipelines []PipelineWeight
}

// Device is a cp_device.
type Device struct {
	Name          string
	DPDeviceIndex int
	Input         DeviceEntry
	Output        DeviceEntry
	descPtr       arena.OffsetPtr[Device]
}

// Addr resolves the device descriptor's zone-relative address.
func (d Device) Addr() uint32 { return resolveDescAddr(d.descPtr) }

func deviceCmp(d Device, key string) bool { return d.Name == key }

// resolveDescAddr reads back a descriptor's zone-relative address from
// its self-relative offset pointer. Every descriptor pointer in this
// package is anchored at the zone's own origin (offset 0), so Resolve's
// target is the address directly; arena.New rejects a zero base (see
// arena.ErrZeroBase), so a live descriptor's address is never 0 and
// never collides with OffsetPtr's own null encoding.
func resolveDescAddr[T any](p arena.OffsetPtr[T]) uint32 {
	target, _ := p.Resolve()
	return uint32(target)
}
