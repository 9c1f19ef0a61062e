package arena

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/ynetcp/configplane/shm"
)

// ErrOutOfArena is returned when the allocator cannot satisfy a request;
// callers treat this as a build-time error and unwind.
var ErrOutOfArena = errors.New("arena: out of arena")

// ErrInvalidFree is returned when Free is called on an offset the
// allocator never handed out.
var ErrInvalidFree = errors.New("arena: invalid free address")

const (
	numLevels = 12 // 16B .. 32KB, enough headroom for config-plane descriptors
	minBlock  = 16
	maxBlock  = minBlock << (numLevels - 1)
)

// Arena is a block allocator over a shm.MemoryProvider: a free list of
// power-of-two blocks with buddy coalescing on free, sized for the small
// descriptor allocations a config-plane entity needs.
type Arena struct {
	mem    shm.MemoryProvider
	base   uint32
	size   uint32
	mu     sync.Mutex
	free   [numLevels]uint32 // head offset per level, 0 == empty
	levels map[uint32]int    // allocated-block offset -> level, for Free
}

// ErrZeroBase is returned when the arena's own region would start at
// offset 0. The free list links blocks by writing each level's head
// offset into a[level.free], using 0 to mean "list empty"; a genuine
// block based at 0 would be indistinguishable from that sentinel and
// could never be handed back out once freed. Real callers never hit
// this: a zone's block-allocated region starts at shm.ArenaOffset, well
// past the zone header.
var ErrZeroBase = errors.New("arena: base must be nonzero, offset 0 is the free-list empty sentinel")

// New creates an arena occupying [base, base+size) of mem. size must be a
// multiple of minBlock, and base must be nonzero (see ErrZeroBase).
func New(mem shm.MemoryProvider, base, size uint32) (*Arena, error) {
	if base == 0 {
		return nil, ErrZeroBase
	}
	if size < minBlock {
		return nil, errors.New("arena: size smaller than minimum block")
	}
	a := &Arena{mem: mem, base: base, size: size, levels: make(map[uint32]int)}

	remaining := size
	cursor := base
	for remaining >= minBlock {
		level := numLevels - 1
		for level >= 0 {
			blockSize := levelSize(level)
			if blockSize <= remaining {
				if err := a.pushFree(level, cursor); err != nil {
					return nil, err
				}
				cursor += blockSize
				remaining -= blockSize
				break
			}
			level--
		}
	}
	return a, nil
}

func levelSize(level int) uint32 {
	return minBlock << uint(level)
}

func sizeToLevel(size uint32) (int, error) {
	if size > maxBlock {
		return 0, ErrOutOfArena
	}
	level := 0
	block := uint32(minBlock)
	for block < size && level < numLevels-1 {
		block *= 2
		level++
	}
	return level, nil
}

// Allocate returns the arena-relative address of a block of at least
// `size` bytes, or ErrOutOfArena when exhausted.
func (a *Arena) Allocate(size uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	level, err := sizeToLevel(size)
	if err != nil {
		return 0, err
	}

	offset, ok, err := a.findFree(level)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrOutOfArena
	}
	a.levels[offset] = level
	return offset, nil
}

// Free returns a previously allocated block to the free list, coalescing
// with its buddy where possible.
func (a *Arena) Free(offset uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	level, ok := a.levels[offset]
	if !ok {
		return ErrInvalidFree
	}
	delete(a.levels, offset)
	return a.coalesce(offset, level)
}

func (a *Arena) findFree(level int) (uint32, bool, error) {
	if a.free[level] != 0 {
		offset := a.free[level]
		next, err := a.readLink(offset)
		if err != nil {
			return 0, false, err
		}
		a.free[level] = next
		return offset, true, nil
	}

	for l := level + 1; l < numLevels; l++ {
		if a.free[l] != 0 {
			return a.split(l, level)
		}
	}
	return 0, false, nil
}

func (a *Arena) split(fromLevel, toLevel int) (uint32, bool, error) {
	offset := a.free[fromLevel]
	next, err := a.readLink(offset)
	if err != nil {
		return 0, false, err
	}
	a.free[fromLevel] = next

	for level := fromLevel - 1; level >= toLevel; level-- {
		buddy := offset + levelSize(level)
		if err := a.pushFree(level, buddy); err != nil {
			return 0, false, err
		}
	}
	return offset, true, nil
}

func (a *Arena) coalesce(offset uint32, level int) error {
	for level < numLevels-1 {
		blockSize := levelSize(level)
		buddy := a.base + ((offset - a.base) ^ blockSize)

		free, err := a.removeIfFree(buddy, level)
		if err != nil {
			return err
		}
		if !free {
			break
		}
		if buddy < offset {
			offset = buddy
		}
		level++
	}
	return a.pushFree(level, offset)
}

// removeIfFree walks the level's free list for `target`; if found it is
// unlinked and true is returned. O(free-list length).
func (a *Arena) removeIfFree(target uint32, level int) (bool, error) {
	if a.free[level] == target {
		next, err := a.readLink(target)
		if err != nil {
			return false, err
		}
		a.free[level] = next
		return true, nil
	}

	current := a.free[level]
	for current != 0 {
		next, err := a.readLink(current)
		if err != nil {
			return false, err
		}
		if next == target {
			nextNext, err := a.readLink(target)
			if err != nil {
				return false, err
			}
			if err := a.writeLink(current, nextNext); err != nil {
				return false, err
			}
			return true, nil
		}
		current = next
	}
	return false, nil
}

func (a *Arena) pushFree(level int, offset uint32) error {
	if err := a.writeLink(offset, a.free[level]); err != nil {
		return err
	}
	a.free[level] = offset
	return nil
}

func (a *Arena) readLink(offset uint32) (uint32, error) {
	var buf [4]byte
	if err := a.mem.ReadAt(offset, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (a *Arena) writeLink(offset, value uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	return a.mem.WriteAt(offset, buf[:])
}

// Stats summarizes allocator occupancy, surfaced for diagnostics and the
// demo CLI.
type Stats struct {
	TotalSize uint32
	Allocated uint32
	Free      uint32
}

func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	allocated := uint32(0)
	for _, level := range a.levels {
		allocated += levelSize(level)
	}
	return Stats{TotalSize: a.size, Allocated: allocated, Free: a.size - allocated}
}

// Context is a lightweight handle pairing the arena with an accounting
// label used only for diagnostics. It is
// passed everywhere an allocation may occur.
type Context struct {
	Arena *Arena
	Label string
}

// NewContext returns a memory context over a for diagnostic label.
func NewContext(a *Arena, label string) Context {
	return Context{Arena: a, Label: label}
}

func (c Context) Allocate(size uint32) (uint32, error) {
	return c.Arena.Allocate(size)
}

func (c Context) Free(offset uint32) error {
	return c.Arena.Free(offset)
}
