package diag_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ynetcp/configplane/diag"
)

func TestStackEmpty(t *testing.T) {
	s := diag.NewStack()
	assert.True(t, s.Empty())
	assert.NoError(t, s.Err())
	assert.NotEmpty(t, s.CorrelationID)
}

func TestStackPushAggregates(t *testing.T) {
	s := diag.NewStack()
	cause := errors.New("arena exhausted")

	s.Push(diag.OutOfArena, "cp_module_spawn", "no free block of size 256", cause)
	s.Push(diag.Duplicate, "cp_config_update_modules", "module \"fw1\" already exists", nil)

	require.False(t, s.Empty())
	require.Len(t, s.Records(), 2)

	rec := s.Records()[0]
	assert.Equal(t, diag.OutOfArena, rec.Kind)
	assert.Equal(t, "cp_module_spawn", rec.Op)
	assert.ErrorIs(t, rec, cause)

	err := s.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 error(s)")
	assert.Contains(t, err.Error(), "out_of_arena")
	assert.Contains(t, err.Error(), "duplicate")
}

func TestRecordUnwrap(t *testing.T) {
	cause := errors.New("lock held by pid 42")
	rec := diag.Record{Kind: diag.LockContention, Op: "cp_config_install", Message: "advisory lock busy", Cause: cause}

	assert.Same(t, cause, errors.Unwrap(rec))
	assert.Contains(t, rec.Error(), "lock_contention")
}
