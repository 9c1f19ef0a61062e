// Package diag implements the structured, per-call diagnostic stack:
// every builder and every agent-facing update call pushes a structured
// record instead of just returning an error string, so a caller can walk
// the full unwind chain.
package diag

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Kind enumerates the failure kinds an update can surface.
type Kind string

const (
	OutOfArena         Kind = "out_of_arena"
	NotFound           Kind = "not_found"
	InUse              Kind = "in_use"
	Duplicate          Kind = "duplicate"
	LockContention     Kind = "lock_contention"
	CounterSpawnFailed Kind = "counter_spawn_failed"
	InvalidConfig      Kind = "invalid_config"
)

// Record is one structured diagnostic entry.
type Record struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (r Record) Error() string {
	if r.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", r.Op, r.Kind, r.Message, r.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", r.Op, r.Kind, r.Message)
}

func (r Record) Unwrap() error { return r.Cause }

// Stack is a per-call diagnostic stack. It is not safe for concurrent use
// across goroutines working on the same logical call; every update_* call
// in this module runs under the single-writer advisory lock anyway.
type Stack struct {
	// CorrelationID ties every record pushed during one controller call
	// together, so a caller can grep logs for the one update that failed.
	CorrelationID string
	records       []Record
}

// NewStack creates a diagnostic stack with a fresh correlation id.
func NewStack() *Stack {
	return &Stack{CorrelationID: uuid.NewString()}
}

// Push appends a structured record to the stack.
func (s *Stack) Push(kind Kind, op, message string, cause error) {
	s.records = append(s.records, Record{Kind: kind, Op: op, Message: message, Cause: cause})
}

// Empty reports whether anything has been pushed. A nil stack is empty:
// callers that receive nil back from a successful install can test it
// without a guard.
func (s *Stack) Empty() bool { return s == nil || len(s.records) == 0 }

// Records returns the full unwind chain, oldest first.
func (s *Stack) Records() []Record {
	if s == nil {
		return nil
	}
	return s.records
}

// Merge appends another stack's records onto this one, keeping this
// stack's own correlation id. Used when a single update_* call builds
// several entities and collects each builder's records under one
// correlation id.
func (s *Stack) Merge(other *Stack) {
	if other == nil {
		return
	}
	s.records = append(s.records, other.records...)
}

// Err flattens the stack into a single error via go-multierror, or nil if
// nothing was pushed. The returned error's Error() enumerates every
// record so the full unwind chain is visible to the caller.
func (s *Stack) Err() error {
	if s.Empty() {
		return nil
	}
	var merr *multierror.Error
	for _, r := range s.records {
		merr = multierror.Append(merr, r)
	}
	merr.ErrorFormat = func(es []error) string {
		out := fmt.Sprintf("update %s failed with %d error(s):", s.CorrelationID, len(es))
		for _, e := range es {
			out += "\n  - " + e.Error()
		}
		return out
	}
	return merr
}
