package shm

// Zone size bounds.
const (
	ZoneSizeDefault = 16 * 1024 * 1024
	ZoneSizeMin     = 4 * 1024 * 1024
	ZoneSizeMax     = 64 * 1024 * 1024
)

// Zone header layout: a zone begins with the cp_config header at
// a well-known offset immediately after the mapping base. Every field is
// either inline state or an offset pointer to a structure living in the
// arena that follows the header.
const (
	// HeaderOffset is the well-known start of the cp_config header.
	HeaderOffset = 0x000000

	// OffsetAllocatorState holds the block allocator's free-list state: an
	// offset pointer to it, reachable from the header, since the
	// allocator itself is accessed via an offset-pointer field reachable
	// from the zone entry point.
	OffsetAllocatorState = HeaderOffset + 0x00
	SizeAllocatorState   = 8

	// OffsetMemoryContextLabel is a fixed-size diagnostic label for the
	// zone's root memory context.
	OffsetMemoryContextLabel = OffsetAllocatorState + SizeAllocatorState
	SizeMemoryContextLabel   = 32

	// OffsetPeerZonePtr points at the peer dataplane zone header.
	OffsetPeerZonePtr = OffsetMemoryContextLabel + SizeMemoryContextLabel
	SizePeerZonePtr   = 8

	// OffsetPidLockCell is the 32-bit PID-valued advisory write lock
	//. Zero means unlocked.
	OffsetPidLockCell = OffsetPeerZonePtr + SizePeerZonePtr
	SizePidLockCell   = 4

	// OffsetActiveGenPtr is the offset pointer to the active
	// cp_config_gen, published atomically at install step 4.
	OffsetActiveGenPtr = OffsetPidLockCell + SizePidLockCell
	SizeActiveGenPtr   = 8

	// OffsetAgentRegistryPtr is the offset pointer to the agent registry
	// that tracks attached agent instances and their byte accounting.
	OffsetAgentRegistryPtr = OffsetActiveGenPtr + SizeActiveGenPtr
	SizeAgentRegistryPtr   = 8

	// OffsetCounterAllocatorState holds the counter-storage allocator's
	// bookkeeping state.
	OffsetCounterAllocatorState = OffsetAgentRegistryPtr + SizeAgentRegistryPtr
	SizeCounterAllocatorState   = 16

	// HeaderSize is the total fixed header size; the arena proper begins
	// immediately after it, page-aligned.
	HeaderSize = OffsetCounterAllocatorState + SizeCounterAllocatorState

	// ArenaOffset is where block-allocated memory begins. Aligned to a
	// cache line so the first allocation never straddles the header.
	ArenaOffset = 4096

	AlignmentCacheLine = 64
	AlignmentPage      = 4096
)

// AccessMode documents who may write a zone region and how. Nothing in
// this module enforces it at runtime — the advisory lock (publish.Lock)
// is the real gate — and nothing in this module reads it; it is kept as
// a declarative reference for reasoning about concurrent access.
type AccessMode int

const (
	AccessReadOnly AccessMode = iota
	AccessSingleWriter
	AccessMultiWriter
)

// RegionId identifies a guard-documented zone region.
type RegionId uint32

const (
	RegionPidLock RegionId = iota
	RegionActiveGenPtr
	RegionAgentRegistry
	RegionArena
)

// RegionPolicy declares who may write a region and how.
type RegionPolicy struct {
	RegionID RegionId
	Access   AccessMode
	Note     string
}

// PolicyFor returns the canonical policy for a zone region.
func PolicyFor(region RegionId) RegionPolicy {
	switch region {
	case RegionPidLock:
		return RegionPolicy{RegionID: region, Access: AccessSingleWriter, Note: "CAS 0->pid, advisory"}
	case RegionActiveGenPtr:
		return RegionPolicy{RegionID: region, Access: AccessSingleWriter, Note: "published atomically by the lock holder, read by every worker"}
	case RegionAgentRegistry:
		return RegionPolicy{RegionID: region, Access: AccessMultiWriter, Note: "one writer per attached agent, serialized by the pid lock"}
	case RegionArena:
		return RegionPolicy{RegionID: region, Access: AccessMultiWriter, Note: "mutated only by the lock holder; read by all"}
	default:
		return RegionPolicy{RegionID: region, Access: AccessReadOnly}
	}
}
