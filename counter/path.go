// Package counter implements the counter binder: declared counter
// registries, the external counter-storage allocator contract,
// and the five-flavor path-keyed binder that links storage across
// generations so accumulated values survive a config update.
package counter

import "strings"

// Flavor names one of the five path kinds a counter storage may be keyed
// by.
type Flavor int

const (
	FlavorDevice Flavor = iota
	FlavorPipeline
	FlavorFunction
	FlavorChain
	FlavorModule
)

func (f Flavor) String() string {
	switch f {
	case FlavorDevice:
		return "device"
	case FlavorPipeline:
		return "pipeline"
	case FlavorFunction:
		return "function"
	case FlavorChain:
		return "chain"
	case FlavorModule:
		return "module"
	default:
		return "unknown"
	}
}

// PathKey identifies the (device, pipeline, function, chain, module) tuple
// a counter storage is addressed by. Only the components relevant to the
// entity's flavor are populated; the rest are empty.
type PathKey struct {
	Flavor   Flavor
	Device   string
	Pipeline string
	Function string
	Chain    string
	Module   string
}

// String renders a PathKey as a straight string-comparison compound key.
func (k PathKey) String() string {
	var b strings.Builder
	b.WriteString(k.Flavor.String())
	b.WriteByte('|')
	b.WriteString(k.Device)
	b.WriteByte('|')
	b.WriteString(k.Pipeline)
	b.WriteByte('|')
	b.WriteString(k.Function)
	b.WriteByte('|')
	b.WriteString(k.Chain)
	b.WriteByte('|')
	b.WriteString(k.Module)
	return b.String()
}

// DevicePath keys a device's own counter registry.
func DevicePath(device string) PathKey { return PathKey{Flavor: FlavorDevice, Device: device} }

// PipelinePath keys a pipeline's own counter registry.
func PipelinePath(pipeline string) PathKey {
	return PathKey{Flavor: FlavorPipeline, Pipeline: pipeline}
}

// FunctionPath keys a function's own counter registry.
func FunctionPath(function string) PathKey {
	return PathKey{Flavor: FlavorFunction, Function: function}
}

// ChainPath keys a chain's own counter registry, qualified by its owning
// function since chain names are only unique within a function.
func ChainPath(function, chain string) PathKey {
	return PathKey{Flavor: FlavorChain, Function: function, Chain: chain}
}

// ModulePath keys a module's own counter registry.
func ModulePath(moduleType, moduleName string) PathKey {
	return PathKey{Flavor: FlavorModule, Module: moduleType + "/" + moduleName}
}
