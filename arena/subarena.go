package arena

import "sync"

// SubArena is the fixed-size private region a cp_module owns. Unlike the
// block allocator it backs, a sub-arena never frees individual objects
// mid-life: a module bump-allocates from its region as it builds its
// descriptor and any per-instance state, and the whole region is only
// reclaimed when the module itself is finally freed off its owning
// agent's unused list, since nothing in this domain needs per-object
// free within a module's own arena.
type SubArena struct {
	base    uint32
	size    uint32
	cursor  uint32
	mu      sync.Mutex
	retired bool
}

// NewSubArena carves out a fixed-size sub-arena at base..base+size inside
// the owning arena. The caller is responsible for having reserved that
// range via a.Allocate(size) first.
func NewSubArena(base, size uint32) *SubArena {
	return &SubArena{base: base, size: size, cursor: base}
}

// Allocate bump-allocates `size` bytes (rounded up to 8-byte alignment)
// from the sub-arena, returning the arena-relative address.
func (s *SubArena) Allocate(size uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retired {
		return 0, ErrInvalidFree
	}

	aligned := (size + 7) &^ 7
	if s.cursor+aligned > s.base+s.size {
		return 0, ErrOutOfArena
	}
	addr := s.cursor
	s.cursor += aligned
	return addr, nil
}

// Used returns the number of bytes bump-allocated so far.
func (s *SubArena) Used() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor - s.base
}

// Retire marks the sub-arena as no longer accepting new allocations. It
// does not reclaim memory — that only happens when the owning agent
// frees the module's whole sub-arena region back to the parent arena
// during its own teardown.
func (s *SubArena) Retire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retired = true
}

func (s *SubArena) Retired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired
}

// Base and Size expose the region's bounds, used when the parent arena
// reclaims the whole range.
func (s *SubArena) Base() uint32 { return s.base }
func (s *SubArena) Size() uint32 { return s.size }
