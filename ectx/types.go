// Package ectx builds config_gen_ectx, the dataplane-facing projection of
// a config.Generation: a parallel, index-keyed tree that
// mirrors the name-keyed config tree but is fully materialized so a
// worker only ever indexes arrays, never looks up a name.
package ectx

import (
	"github.com/ynetcp/configplane/config"
	"github.com/ynetcp/configplane/counter"
)

// ModuleCtx is one module's execution context. It is shared by every
// ChainCtx that references the same module, since a module's cross-index
// arrays describe the module itself, not any one chain's use of it.
type ModuleCtx struct {
	Module  config.Module
	Storage counter.Storage

	// McIndex[i] is the generation-wide device index for
	// Module.Devices[i], or -1 if that device no longer exists in this
	// generation.
	McIndex []int
	// CmIndex[d] is the slot within Module.Devices that names the
	// generation's device at index d, or 0 if the module is not declared
	// on that device.
	CmIndex []int
}

// ChainCtx is one chain's execution context: its resolved module chain.
type ChainCtx struct {
	Chain   config.Chain
	Storage counter.Storage
	Modules []*ModuleCtx
	Weight  uint64
}

// FunctionCtx is one function's execution context, including the
// flattened chain weight map.
type FunctionCtx struct {
	Function config.Function
	Storage  counter.Storage
	Chains   []*ChainCtx
	ChainMap []*ChainCtx
}

// PipelineCtx is one pipeline's execution context.
type PipelineCtx struct {
	Pipeline  config.Pipeline
	Storage   counter.Storage
	Functions []*FunctionCtx
}

// DeviceEntryCtx is one device_entry's (input or output) execution
// context, including the flattened pipeline weight map.
type DeviceEntryCtx struct {
	Storage     counter.Storage
	Pipelines   []*PipelineCtx
	PipelineMap []*PipelineCtx
}

// DeviceCtx is one device's execution context.
type DeviceCtx struct {
	Device config.Device
	// Index is this device's position in the generation-wide device
	// list, the value mc_index/cm_index entries are expressed in terms
	// of.
	Index   int
	Storage counter.Storage
	Input   *DeviceEntryCtx
	Output  *DeviceEntryCtx
}

// GenerationCtx is the whole config_gen_ectx for one installed
// generation: one DeviceCtx per device plus one ModuleCtx per registered
// module, shared by every chain that references that module.
type GenerationCtx struct {
	Generation *config.Generation
	Devices    []*DeviceCtx
	Modules    map[string]*ModuleCtx // keyed by Module.Key()
}

// PipelineFor implements the packet-time operation "given a device id d
// and a selector hash h, pipeline_map[d][h mod pipeline_map_size] yields
// the pipeline execution context", for whichever device entry (input or
// output) it is called on.
func (e *DeviceEntryCtx) PipelineFor(hash uint64) *PipelineCtx {
	if len(e.PipelineMap) == 0 {
		return nil
	}
	return e.PipelineMap[hash%uint64(len(e.PipelineMap))]
}

// ChainFor implements "given a function and a selector hash h,
// chain_map[h mod chain_map_size] yields the chain execution context".
func (f *FunctionCtx) ChainFor(hash uint64) *ChainCtx {
	if len(f.ChainMap) == 0 {
		return nil
	}
	return f.ChainMap[hash%uint64(len(f.ChainMap))]
}

// DeviceSlot implements "given a module execution context and a device
// id, cm_index translates to the module's own per-device slot in O(1)".
func (m *ModuleCtx) DeviceSlot(deviceIndex int) int {
	if deviceIndex < 0 || deviceIndex >= len(m.CmIndex) {
		return 0
	}
	return m.CmIndex[deviceIndex]
}
