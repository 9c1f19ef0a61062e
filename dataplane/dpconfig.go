package dataplane

import (
	"context"
	"sync"
)

// DPConfig is the collaborator the publication protocol's quiescence wait
// blocks on: it tracks each
// worker's per-worker generation counter and reports once every worker
// has advanced to at least the requested generation. The core passes no
// timeout into this call by design — a context is accepted only
// so a caller outside the core (tests, the demo CLI) can bound how long
// it is willing to wait, never as a feature the core itself exercises.
type DPConfig interface {
	// WaitForGen blocks until every known worker has advertised a
	// generation >= gen, or ctx is done.
	WaitForGen(ctx context.Context, gen uint64) error
	// AdvertiseGen is called by a worker (or, in this fake, by a test) to
	// record that it has moved on to gen.
	AdvertiseGen(worker int, gen uint64)
	// RegisterWorker adds a worker to the set WaitForGen watches, seeded
	// at generation 0.
	RegisterWorker(worker int)
}

// InMemoryDPConfig is a fake DPConfig for tests and the single-process
// demo, standing in for the real multi-process worker pool.
type InMemoryDPConfig struct {
	mu      sync.Mutex
	cond    *sync.Cond
	workers map[int]uint64
}

func NewInMemoryDPConfig() *InMemoryDPConfig {
	d := &InMemoryDPConfig{workers: make(map[int]uint64)}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *InMemoryDPConfig) RegisterWorker(worker int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.workers[worker]; !ok {
		d.workers[worker] = 0
	}
}

func (d *InMemoryDPConfig) AdvertiseGen(worker int, gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workers[worker] = gen
	d.cond.Broadcast()
}

func (d *InMemoryDPConfig) WaitForGen(ctx context.Context, gen uint64) error {
	done := make(chan struct{})
	go func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for !d.allAtLeastLocked(gen) {
			d.cond.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *InMemoryDPConfig) allAtLeastLocked(gen uint64) bool {
	for _, g := range d.workers {
		if g < gen {
			return false
		}
	}
	return true
}
