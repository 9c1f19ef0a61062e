package agent

import (
	"sync"

	"github.com/ynetcp/configplane/config"
)

// RetiredSink is the shared landing zone every Client attached to the
// same zone drains from. publish.Installer hands it every soft-retired
// module while still holding the advisory lock, so routing by
// Module.Owner here can never race against a second Install publishing
// ahead of a Client reading back a by-then-stale active generation.
type RetiredSink struct {
	mu     sync.Mutex
	unused map[string][]config.Module
}

// NewRetiredSink creates an empty sink, wired into a publish.Installer
// via its SetRetireSink method.
func NewRetiredSink() *RetiredSink {
	return &RetiredSink{unused: make(map[string][]config.Module)}
}

// Retire files each module under its own Owner. A module built before
// any agent name was attached (Owner == "") is filed under "" and is
// only ever reclaimed by a Client constructed with that empty name —
// effectively orphaned, matching a real deployment's expectation that
// every module is built through some agent.
func (s *RetiredSink) Retire(modules []config.Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range modules {
		s.unused[m.Owner] = append(s.unused[m.Owner], m)
	}
}

// Drain removes and returns every module currently filed under owner.
func (s *RetiredSink) Drain(owner string) []config.Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.unused[owner]
	delete(s.unused, owner)
	return out
}
