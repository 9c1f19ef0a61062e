package counter

import "sync"

// Binder maintains, for every path that exists in an installed
// generation, exactly one counter storage: look up the old storage under
// the same key, spawn the new one (carrying the old forward), and only
// commit the new registry entry once the spawn succeeds.
type Binder struct {
	allocator Allocator

	mu       sync.RWMutex
	storages map[string]Storage
}

// NewBinder creates a binder backed by allocator.
func NewBinder(allocator Allocator) *Binder {
	return &Binder{allocator: allocator, storages: make(map[string]Storage)}
}

// Bind looks up path in prev (the previous generation's binder, nil for
// the first generation), spawns new storage for declared via the
// allocator, and inserts it under path in this binder. Build failure at
// any step aborts and returns ErrCounterSpawnFailed without mutating the
// binder.
func (b *Binder) Bind(path PathKey, prev *Binder, declared DeclaredRegistry) (Storage, error) {
	var old Storage
	if prev != nil {
		old, _ = prev.Lookup(path)
	}

	storage, err := b.allocator.Spawn(path, old, declared)
	if err != nil || storage == nil {
		return nil, ErrCounterSpawnFailed
	}

	b.mu.Lock()
	b.storages[path.String()] = storage
	b.mu.Unlock()
	return storage, nil
}

// Clone returns a new binder over the same allocator, pre-populated with
// every path currently bound in b. A spawned generation starts from a
// clone of its parent's binder so that entities carried forward by
// reference (never passed to an Upsert call in the new generation) keep
// resolving to their existing counter storage instead of going missing.
// Bind overwrites an entry in place when that path is actually rebuilt.
func (b *Binder) Clone() *Binder {
	b.mu.RLock()
	defer b.mu.RUnlock()

	storages := make(map[string]Storage, len(b.storages))
	for k, v := range b.storages {
		storages[k] = v
	}
	return &Binder{allocator: b.allocator, storages: storages}
}

// Lookup returns the storage bound to path, if any.
func (b *Binder) Lookup(path PathKey) (Storage, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.storages[path.String()]
	return s, ok
}

// Len returns the number of bound paths.
func (b *Binder) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.storages)
}
