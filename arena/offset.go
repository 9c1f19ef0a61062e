package arena

// OffsetPtr is a self-relative offset pointer: a single machine word
// stored at some address S inside the arena. Resolving it yields an
// absolute address S + stored offset. The null encoding is the offset
// that resolves back to S itself. Because resolution is
// always relative to the storing word's own address, the same arena may
// be mapped at different base addresses in different processes without
// any pointer fix-up pass.
//
// T is carried only as a type parameter for call-site clarity (e.g.
// OffsetPtr[cpModule] vs OffsetPtr[cpChain]); the pointer itself is
// nothing more than a signed delta.
type OffsetPtr[T any] struct {
	// at is the address of the word holding this pointer (S).
	at int64
	// delta is the stored offset (stored_offset).
	delta int64
}

// NullOffsetPtr returns a null pointer anchored at address `at`: the
// sentinel value that resolves back to `at` itself.
func NullOffsetPtr[T any](at int64) OffsetPtr[T] {
	return OffsetPtr[T]{at: at, delta: 0}
}

// NewOffsetPtr builds a pointer stored at `at` that resolves to `target`.
func NewOffsetPtr[T any](at, target int64) OffsetPtr[T] {
	return OffsetPtr[T]{at: at, delta: target - at}
}

// IsNull reports whether the pointer is the self-reference sentinel.
func (p OffsetPtr[T]) IsNull() bool {
	return p.delta == 0
}

// Resolve returns the absolute address this pointer refers to, or false
// if it is null.
func (p OffsetPtr[T]) Resolve() (int64, bool) {
	if p.IsNull() {
		return 0, false
	}
	return p.at + p.delta, true
}

// At returns the address of the word holding this pointer.
func (p OffsetPtr[T]) At() int64 { return p.at }

// Retarget returns a new pointer stored at the same address but pointing
// at `target` (or null when target equals at).
func (p OffsetPtr[T]) Retarget(target int64) OffsetPtr[T] {
	return OffsetPtr[T]{at: p.at, delta: target - p.at}
}

// Rebase returns an equivalent pointer as if it were stored at `newAt`
// while resolving to the same absolute address.
func (p OffsetPtr[T]) Rebase(newAt int64) OffsetPtr[T] {
	if p.IsNull() {
		return NullOffsetPtr[T](newAt)
	}
	target, _ := p.Resolve()
	return NewOffsetPtr[T](newAt, target)
}
