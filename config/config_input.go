package config

// The *Config types are the input blobs builders consume and turn into
// arena-resident, immutable descriptors. Builders validate both shape
// (non-empty names, positive weights) and references against a
// generation's registries; a build that fails partway frees whatever it
// had already allocated.

// ModuleConfig is the input to BuildModule.
type ModuleConfig struct {
	Type    string
	Name    string
	Devices []string

	// Owner names the submitting agent; copied onto the built Module so
	// soft-retirement can route it back to the right agent's unused list
	// regardless of which agent later deletes or replaces it.
	Owner string
}

// ChainConfig is the input to BuildChain, nested inside a FunctionConfig.
type ChainConfig struct {
	Name    string
	Modules []ModuleRef
}

// ChainConfigWeight pairs a chain config with its weight within a function.
type ChainConfigWeight struct {
	Chain  ChainConfig
	Weight uint64
}

// FunctionConfig is the input to BuildFunction.
type FunctionConfig struct {
	Name   string
	Chains []ChainConfigWeight
}

// PipelineConfig is the input to BuildPipeline.
type PipelineConfig struct {
	Name      string
	Functions []string
}

// PipelineWeightConfig pairs a pipeline name with its weight within a
// device entry.
type PipelineWeightConfig struct {
	Pipeline string
	Weight   uint64
}

// DeviceConfig is the input to BuildDevice.
type DeviceConfig struct {
	Name          string
	DeviceType    string
	InputEntries  []PipelineWeightConfig
	OutputEntries []PipelineWeightConfig
}
