package config

import "github.com/ynetcp/configplane/counter"

// Canonical per-kind counter descriptors. Every builder registers exactly
// these for its kind, so declaration shape is identical across
// generations and counter identity survives a replace (DeclaredRegistry.SameShape).

func moduleCounters(path counter.PathKey) counter.DeclaredRegistry {
	return counter.DeclaredRegistry{
		Path: path,
		Descriptors: []counter.Descriptor{
			{Name: "invocations", Cardinality: 1},
			{Name: "errors", Cardinality: 1},
		},
	}
}

func chainCounters(path counter.PathKey) counter.DeclaredRegistry {
	return counter.DeclaredRegistry{
		Path: path,
		Descriptors: []counter.Descriptor{
			{Name: "invocations", Cardinality: 1},
		},
	}
}

func functionCounters(path counter.PathKey) counter.DeclaredRegistry {
	return counter.DeclaredRegistry{
		Path: path,
		Descriptors: []counter.Descriptor{
			{Name: "invocations", Cardinality: 1},
		},
	}
}

func pipelineCounters(path counter.PathKey) counter.DeclaredRegistry {
	return counter.DeclaredRegistry{
		Path: path,
		Descriptors: []counter.Descriptor{
			{Name: "input", Cardinality: 1},
			{Name: "output", Cardinality: 1},
			{Name: "drop", Cardinality: 1},
			{Name: "input_histogram", Cardinality: 8},
		},
	}
}

func deviceCounters(path counter.PathKey) counter.DeclaredRegistry {
	return counter.DeclaredRegistry{
		Path: path,
		Descriptors: []counter.Descriptor{
			{Name: "input", Cardinality: 1},
			{Name: "output", Cardinality: 1},
			{Name: "drop", Cardinality: 1},
		},
	}
}
