package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ynetcp/configplane/log"
)

// shutdownManager runs registered cleanup funcs in LIFO order when asked
// to shut down, bounding the whole sequence with a timeout so one stuck
// component cannot hang the process on exit.
type shutdownManager struct {
	mu      sync.Mutex
	fns     []func() error
	timeout time.Duration
	log     *log.Logger
}

func newShutdownManager(timeout time.Duration, logger *log.Logger) *shutdownManager {
	return &shutdownManager{timeout: timeout, log: logger}
}

// Register adds fn to the shutdown sequence. Functions registered later
// run first, so the most recently started component tears down before
// the dependencies it was built on.
func (m *shutdownManager) Register(fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fns = append(m.fns, fn)
}

func (m *shutdownManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	fns := append([]func() error(nil), m.fns...)
	m.mu.Unlock()

	m.log.Info("starting graceful shutdown", log.Int("components", len(fns)))

	shutdownCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var firstErr error
		for i := len(fns) - 1; i >= 0; i-- {
			if err := fns[i](); err != nil {
				m.log.Error("shutdown step failed", log.Int("index", i), log.Err(err))
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		done <- firstErr
	}()

	select {
	case err := <-done:
		m.log.Info("graceful shutdown complete")
		return err
	case <-shutdownCtx.Done():
		m.log.Warn("graceful shutdown timed out")
		return errors.New("cpagentd: shutdown timed out")
	}
}
