package counter

// Descriptor names one counter within an entity's declared registry and
// its fixed cardinality — e.g. a pipeline declares "input", "output",
// "drop" as 1-value counters and "input_histogram" as an 8-value counter.
type Descriptor struct {
	Name        string
	Cardinality int
}

// DeclaredRegistry is the list of counter descriptors an entity builder
// registers for its canonical counters.
type DeclaredRegistry struct {
	Path        PathKey
	Descriptors []Descriptor
}

// SameShape reports whether two declared registries describe identical
// counters in identical order — the condition under which the binder
// preserves numeric identity across a replacement.
func (d DeclaredRegistry) SameShape(other DeclaredRegistry) bool {
	if len(d.Descriptors) != len(other.Descriptors) {
		return false
	}
	for i := range d.Descriptors {
		if d.Descriptors[i] != other.Descriptors[i] {
			return false
		}
	}
	return true
}
