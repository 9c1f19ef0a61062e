package shm

// InMemoryProvider backs a zone with process-local memory. Used by every
// test in this module and by the single-process demo in cmd/cpagentd;
// all access semantics come from the shared region core.
type InMemoryProvider struct {
	region
}

// NewInMemoryProvider creates an in-memory provider with the requested size.
func NewInMemoryProvider(size uint32) *InMemoryProvider {
	return &InMemoryProvider{region{data: make([]byte, size)}}
}

// Close drops the backing slice; any later access fails the region's
// bounds check rather than reaching freed memory.
func (m *InMemoryProvider) Close() error {
	m.data = nil
	return nil
}
