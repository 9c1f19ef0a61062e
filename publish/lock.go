// Package publish implements the single-writer publication protocol: the
// PID-valued advisory lock, the install sequence, and the quiescence
// wait that gates when an old generation may be freed.
package publish

import (
	"errors"
	"os"
	"time"

	"github.com/ynetcp/configplane/shm"
)

// ErrNotHeld is returned by Unlock when the caller did not hold the lock.
// The protocol treats this as a logic error in the caller, not a runtime
// failure mode — callers are expected to never
// trigger it, not to handle it gracefully.
var ErrNotHeld = errors.New("publish: unlock called without holding the lock")

// spinInterval bounds how often Lock retries its CAS while busy-waiting;
// the protocol itself defines no backoff policy, so this just keeps the
// busy loop from pegging a core at 100% between attempts.
const spinInterval = 50 * time.Microsecond

// Lock is the zone's single-writer advisory lock: a PID-valued atomic
// cell at shm.OffsetPidLockCell, acquired by compare-and-swap from 0 to
// the holder's pid.
type Lock struct {
	mem    shm.MemoryProvider
	offset uint32
	pid    uint32
}

// NewLock creates a Lock over the PID cell at offset in mem, identifying
// this process by its own PID. Tests that simulate multiple controllers
// in one process should use NewLockWithPID to give each a distinct
// identity.
func NewLock(mem shm.MemoryProvider, offset uint32) *Lock {
	return NewLockWithPID(mem, offset, uint32(os.Getpid()))
}

// NewLockWithPID is NewLock with an explicit pid, for tests.
func NewLockWithPID(mem shm.MemoryProvider, offset uint32, pid uint32) *Lock {
	return &Lock{mem: mem, offset: offset, pid: pid}
}

// TryLock attempts a single CAS 0 -> pid, returning whether it succeeded.
func (l *Lock) TryLock() (bool, error) {
	return l.mem.CompareAndSwap32(l.offset, 0, l.pid)
}

// Lock busy-loops TryLock until it succeeds. The protocol defines no
// timeout here, matching the unbounded quiescence wait this lock is held
// across.
func (l *Lock) Lock() error {
	for {
		ok, err := l.TryLock()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		time.Sleep(spinInterval)
	}
}

// Unlock CAS'es pid -> 0, returning ErrNotHeld if the caller did not hold
// the lock.
func (l *Lock) Unlock() error {
	ok, err := l.mem.CompareAndSwap32(l.offset, l.pid, 0)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}
