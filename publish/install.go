package publish

import (
	"context"
	"sync"

	"github.com/ynetcp/configplane/config"
	"github.com/ynetcp/configplane/dataplane"
	"github.com/ynetcp/configplane/diag"
	"github.com/ynetcp/configplane/ectx"
	"github.com/ynetcp/configplane/shm"
)

// Installer runs the install sequence against one zone: it owns the
// advisory lock, the currently active generation and its execution
// context, and the dataplane collaborator the quiescence wait blocks on.
type Installer struct {
	lock *Lock
	mem  shm.MemoryProvider
	dp   dataplane.DPConfig

	activeMu  sync.RWMutex
	active    *config.Generation
	activeCtx *ectx.GenerationCtx

	// retireFn, if set, receives every module soft-retired by an Install
	// call while that call still holds the advisory lock — so handing
	// retired modules off to their owning agent's unused list never races
	// against a second Install publishing ahead of the first caller
	// reading back the (by-then-stale) active generation.
	retireFn func([]config.Module)
}

// SetRetireSink installs the callback Install hands newly soft-retired
// modules to. Safe to call more than once; agent.NewClient calls it for
// every Client it constructs, and each call replaces the previous callback.
func (in *Installer) SetRetireSink(fn func([]config.Module)) {
	in.activeMu.Lock()
	defer in.activeMu.Unlock()
	in.retireFn = fn
}

// NewInstaller bootstraps the protocol over initial (generation 0). Its
// execution context is built immediately, as install step 3 would for
// any later generation.
func NewInstaller(mem shm.MemoryProvider, dp dataplane.DPConfig, initial *config.Generation) (*Installer, error) {
	genCtx, err := ectx.Build(initial)
	if err != nil {
		return nil, err
	}
	return &Installer{
		lock:      NewLock(mem, shm.OffsetPidLockCell),
		mem:       mem,
		dp:        dp,
		active:    initial,
		activeCtx: genCtx,
	}, nil
}

// Active returns the currently published generation and its execution
// context. Readers never coordinate with the writer, so this
// takes only a brief read lock to snapshot the pointer pair.
func (in *Installer) Active() (*config.Generation, *ectx.GenerationCtx) {
	in.activeMu.RLock()
	defer in.activeMu.RUnlock()
	return in.active, in.activeCtx
}

// Install runs the full sequence under the advisory lock: spawn, mutate,
// build execution context, publish, wait for quiescence, destroy the old
// generation, unlock.
//
// mutate's diagnostic stack, if non-empty, means the candidate generation
// failed validation; Install discards it, leaves the active generation
// untouched, and returns the stack with a nil error. A non-nil error
// return instead means an infrastructure step (execution-context build,
// the quiescence wait) failed; in that case the candidate generation may
// already be published — there is no rollback or timeout for the wait
// itself, so once published a generation stays active even if the wait's
// context is canceled.
func (in *Installer) Install(ctx context.Context, mutate func(gen *config.Generation) *diag.Stack) (*diag.Stack, error) {
	if err := in.lock.Lock(); err != nil {
		return nil, err
	}
	defer in.lock.Unlock()

	in.activeMu.RLock()
	previous := in.active
	in.activeMu.RUnlock()

	candidate := previous.Spawn()
	if stack := mutate(candidate); !stack.Empty() {
		// Spawn ref-bumped every shared registry slot; the discard drops
		// those references again so entities shared with the still-active
		// generation can reach refcount zero when it is eventually
		// destroyed.
		candidate.Discard()
		return stack, nil
	}

	candidateCtx, err := ectx.Build(candidate)
	if err != nil {
		candidate.Discard()
		return nil, err
	}

	in.publish(candidate, candidateCtx)

	if err := in.dp.WaitForGen(ctx, candidate.Number); err != nil {
		return nil, err
	}

	previous.Destroy()
	// Whatever previous.Destroy just soft-retired (modules whose last
	// registry reference was the old generation itself, including any
	// this install's mutate deleted or replaced while the old generation
	// still shared it) is only reachable through previous, which is
	// about to go out of scope — fold it in with whatever this install's
	// own mutate retired directly, and hand the
	// combined list off now, still under the advisory lock.
	retired := append(candidate.Retired, previous.Retired...)
	candidate.Retired = nil

	in.activeMu.RLock()
	retireFn := in.retireFn
	in.activeMu.RUnlock()
	if retireFn != nil && len(retired) > 0 {
		retireFn(retired)
	}
	return nil, nil
}

func (in *Installer) publish(candidate *config.Generation, candidateCtx *ectx.GenerationCtx) {
	// The real zone header stores an offset pointer to the active
	// generation; since this module never serializes the generation's
	// own byte layout into the arena (see the comment at the top of
	// config/builders.go), the zone cell instead carries the published generation
	// number, and the Go-side pointer pair is swapped under activeMu.
	// Both happen before the quiescence wait, matching "publish:
	// atomically store the new generation pointer".
	in.mem.AtomicStore32(shm.OffsetActiveGenPtr, uint32(candidate.Number))

	in.activeMu.Lock()
	in.active = candidate
	in.activeCtx = candidateCtx
	in.activeMu.Unlock()
}
