// Package registry implements a generic, copy-on-write name-keyed
// registry: a dynamic array of reference-counted items that backs every
// cp_* entity kind.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
)

// slot is one registry cell: nil when empty, otherwise a refcounted item.
// refCount is a pointer shared across every registry that Copy produced
// from this slot, so unref-ing from either side of a fork decrements the
// same cell — a generation destroyed before its descendant must not free
// an item the descendant still reaches.
type slot[T any] struct {
	item     *T
	refCount *int32
}

func newRefCount(n int32) *int32 {
	v := n
	return &v
}

// Registry is a dynamic array of refcounted items addressed by a
// caller-supplied key comparator. keyFn extracts a
// bloom-filterable fingerprint from an item for the negative-lookup
// prefilter; it needs only to be stable and collision-tolerant, not unique.
type Registry[T any] struct {
	mu     sync.RWMutex
	slots  []slot[T]
	count  int
	keyFn  func(T) string
	filter *bloom.BloomFilter
}

// New creates an empty registry. keyFn is used to populate the bloom
// prefilter on Insert/Replace; pass the same key shape callers will use
// with Lookup/Replace.
func New[T any](keyFn func(T) string) *Registry[T] {
	return &Registry[T]{
		keyFn:  keyFn,
		filter: bloom.NewWithEstimates(1024, 0.01),
	}
}

// Len returns the number of occupied slots.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Capacity returns the number of slots currently allocated (occupied or not).
func (r *Registry[T]) Capacity() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// Lookup performs a linear scan for the first slot whose item satisfies
// cmp(item, key), returning its index. A bloom-filter miss on key short
// circuits the scan: a negative lookup on a near-miss key skips the
// O(capacity) scan entirely.
func (r *Registry[T]) Lookup(key string, cmp func(item T, key string) bool) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(key, cmp)
}

func (r *Registry[T]) lookupLocked(key string, cmp func(item T, key string) bool) (int, bool) {
	if !r.filter.TestString(key) {
		return 0, false
	}
	for i := range r.slots {
		if r.slots[i].item == nil {
			continue
		}
		if cmp(*r.slots[i].item, key) {
			return i, true
		}
	}
	return 0, false
}

// Get returns the item at index, or false if the slot is empty or out of
// range. Indices are stable for the lifetime of an item within a given
// registry, and Copy keeps every item at the same slot index.
func (r *Registry[T]) Get(index int) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero T
	if index < 0 || index >= len(r.slots) || r.slots[index].item == nil {
		return zero, false
	}
	return *r.slots[index].item, true
}

// All returns every occupied item in slot order, used by read-only
// inspection.
func (r *Registry[T]) All() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, r.count)
	for i := range r.slots {
		if r.slots[i].item != nil {
			out = append(out, *r.slots[i].item)
		}
	}
	return out
}

// Insert places item at the first empty slot, growing capacity (double,
// or 1 if empty) when full. Returns the assigned index.
func (r *Registry[T]) Insert(item T) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(item)
}

func (r *Registry[T]) insertLocked(item T) int {
	r.filter.AddString(r.keyFn(item))

	for i := range r.slots {
		if r.slots[i].item == nil {
			v := item
			r.slots[i] = slot[T]{item: &v, refCount: newRefCount(1)}
			r.count++
			return i
		}
	}

	oldLen := len(r.slots)
	newCap := oldLen * 2
	if newCap == 0 {
		newCap = 1
	}
	grown := make([]slot[T], newCap)
	copy(grown, r.slots)
	r.slots = grown

	v := item
	r.slots[oldLen] = slot[T]{item: &v, refCount: newRefCount(1)}
	r.count++
	return oldLen
}

// Replace implements replace(cmp_fn, key, new_or_null, free_cb).
// If a slot exists for key, its old item is unreffed (free_cb called on
// last ref) and the slot takes newItem, or becomes empty when newItem is
// nil (delete). If no slot exists and newItem is non-nil, behaves like
// Insert. Deleting a non-existent key fails.
func (r *Registry[T]) Replace(key string, cmp func(item T, key string) bool, newItem *T, freeCb func(T)) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.lookupLocked(key, cmp)
	if !ok {
		if newItem == nil {
			return 0, ErrNotFound
		}
		return r.insertLocked(*newItem), nil
	}

	r.unrefLocked(idx, freeCb)
	if newItem == nil {
		r.slots[idx] = slot[T]{}
		r.count--
		return idx, nil
	}

	v := *newItem
	r.filter.AddString(r.keyFn(v))
	r.slots[idx] = slot[T]{item: &v, refCount: newRefCount(1)}
	return idx, nil
}

// Copy produces a new registry of identical capacity whose slots
// reference the same items with refcounts incremented — the O(capacity)
// copy-on-write primitive generations spawn from.
func (r *Registry[T]) Copy() *Registry[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := &Registry[T]{
		keyFn:  r.keyFn,
		slots:  make([]slot[T], len(r.slots)),
		count:  r.count,
		filter: r.filter.Copy(),
	}
	for i := range r.slots {
		if r.slots[i].item == nil {
			continue
		}
		atomic.AddInt32(r.slots[i].refCount, 1)
		out.slots[i] = slot[T]{item: r.slots[i].item, refCount: r.slots[i].refCount}
	}
	return out
}

// Destroy unrefs every occupied slot, calling freeCb wherever a slot's
// reference count reaches zero.
func (r *Registry[T]) Destroy(freeCb func(T)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].item != nil {
			r.unrefLocked(i, freeCb)
		}
	}
	r.slots = nil
	r.count = 0
}

// unrefLocked decrements the slot's shared refcount and invokes freeCb on
// the reference that drives it to zero. The counter is shared with every
// registry Copy produced from this slot (see slot.refCount), so this is
// an atomic decrement rather than a plain one: two generations sharing an
// item can each call Destroy/Replace from under their own mutex, and only
// one of those racing decrements may observe the transition to zero.
func (r *Registry[T]) unrefLocked(idx int, freeCb func(T)) {
	s := &r.slots[idx]
	if s.item == nil {
		return
	}
	remaining := atomic.AddInt32(s.refCount, -1)
	if remaining <= 0 && freeCb != nil {
		freeCb(*s.item)
	}
}
