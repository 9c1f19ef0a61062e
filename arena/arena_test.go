package arena_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ynetcp/configplane/arena"
	"github.com/ynetcp/configplane/shm"
)

func newTestArena(t *testing.T, size uint32) *arena.Arena {
	t.Helper()
	mem := shm.NewInMemoryProvider(size + 4096)
	a, err := arena.New(mem, 4096, size)
	require.NoError(t, err)
	return a
}

func TestNewRejectsZeroBase(t *testing.T) {
	mem := shm.NewInMemoryProvider(4096)
	_, err := arena.New(mem, 0, 4096)
	assert.ErrorIs(t, err, arena.ErrZeroBase)
}

func TestAllocateFreeRoundTrip(t *testing.T) {
	a := newTestArena(t, 64*1024)

	addr, err := a.Allocate(100)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, addr, uint32(4096))

	stats := a.Stats()
	assert.Equal(t, uint32(128), stats.Allocated) // rounds up to the 128B level

	require.NoError(t, a.Free(addr))
	stats = a.Stats()
	assert.Equal(t, uint32(0), stats.Allocated)
}

func TestAllocateExhaustion(t *testing.T) {
	a := newTestArena(t, 256)

	var addrs []uint32
	for {
		addr, err := a.Allocate(16)
		if err != nil {
			assert.ErrorIs(t, err, arena.ErrOutOfArena)
			break
		}
		addrs = append(addrs, addr)
	}
	assert.NotEmpty(t, addrs)

	for _, addr := range addrs {
		require.NoError(t, a.Free(addr))
	}

	// fully coalesced back to one free block big enough for a large request
	addr, err := a.Allocate(200)
	require.NoError(t, err)
	assert.NotZero(t, addr)
}

func TestFreeUnknownAddressFails(t *testing.T) {
	a := newTestArena(t, 4096)
	err := a.Free(999999)
	assert.ErrorIs(t, err, arena.ErrInvalidFree)
}

func TestOversizeRequestFails(t *testing.T) {
	a := newTestArena(t, 4096)
	_, err := a.Allocate(1 << 20)
	assert.ErrorIs(t, err, arena.ErrOutOfArena)
}

func TestOffsetPtrRoundTrip(t *testing.T) {
	p := arena.NewOffsetPtr[int](1000, 1200)
	target, ok := p.Resolve()
	require.True(t, ok)
	assert.Equal(t, int64(1200), target)

	null := arena.NullOffsetPtr[int](500)
	_, ok = null.Resolve()
	assert.False(t, ok)
	assert.True(t, null.IsNull())
}

func TestOffsetPtrRebase(t *testing.T) {
	p := arena.NewOffsetPtr[int](1000, 1200)
	rebased := p.Rebase(2000)
	target, ok := rebased.Resolve()
	require.True(t, ok)
	assert.Equal(t, int64(1200), target)
	assert.Equal(t, int64(2000), rebased.At())
}

func TestSubArenaBumpAllocation(t *testing.T) {
	sub := arena.NewSubArena(8192, 256)

	a1, err := sub.Allocate(10)
	require.NoError(t, err)
	a2, err := sub.Allocate(20)
	require.NoError(t, err)
	assert.NotEqual(t, a1, a2)
	assert.Equal(t, uint32(40), sub.Used()) // 10 -> 16, 20 -> 24, aligned to 8

	sub.Retire()
	assert.True(t, sub.Retired())
	_, err = sub.Allocate(8)
	assert.Error(t, err)
}

func TestSubArenaExhaustion(t *testing.T) {
	sub := arena.NewSubArena(0, 16)
	_, err := sub.Allocate(32)
	assert.ErrorIs(t, err, arena.ErrOutOfArena)
}
