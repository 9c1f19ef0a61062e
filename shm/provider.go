// Package shm provides the shared-memory transport the zone is mapped
// over: a small interface any backing store must satisfy, plus the two
// implementations this module ships (an in-memory one for tests and a
// single-process demo, and an mmap-backed one for the real multi-process
// case), and the zone header layout the protocol is built around.
package shm

import "errors"

// MemoryProvider abstracts access to the shared zone. Implementations may
// be backed by mmap or by a plain in-process byte slice.
type MemoryProvider interface {
	Size() uint32
	ReadAt(offset uint32, dest []byte) error
	WriteAt(offset uint32, src []byte) error
	AtomicLoad32(offset uint32) (uint32, error)
	AtomicStore32(offset uint32, val uint32) error
	AtomicAdd32(offset uint32, delta uint32) (uint32, error)
	CompareAndSwap32(offset uint32, old, new uint32) (bool, error)
	Close() error
}

var ErrOutOfBounds = errors.New("shm: offset out of bounds")
var ErrMisaligned = errors.New("shm: offset is not 4-byte aligned")
