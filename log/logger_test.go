package log_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ynetcp/configplane/log"
)

func newBufferedLogger(level log.Level) (*log.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := log.New(log.Config{
		Level:     level,
		Component: "install",
		Output:    &buf,
	})
	return logger, &buf
}

func TestLoggerRendersSingleLineWithFields(t *testing.T) {
	logger, buf := newBufferedLogger(log.Info)

	logger.Info("published generation", log.Uint64("gen", 3), log.String("device", "01:00.0"))

	line := buf.String()
	require.NotEmpty(t, line)
	assert.Contains(t, line, "[INFO ]")
	assert.Contains(t, line, "[install]")
	assert.Contains(t, line, "published generation")
	assert.Contains(t, line, "gen=3")
	assert.Contains(t, line, `device="01:00.0"`, "string values are quoted")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestLoggerFiltersBelowConfiguredLevel(t *testing.T) {
	logger, buf := newBufferedLogger(log.Warn)

	logger.Debug("noise")
	logger.Info("more noise")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestWithScopesComponentPath(t *testing.T) {
	logger, buf := newBufferedLogger(log.Info)

	logger.With("quiesce").Info("waiting")
	assert.Contains(t, buf.String(), "[install.quiesce]")
}

func TestErrField(t *testing.T) {
	logger, buf := newBufferedLogger(log.Info)

	logger.Error("update failed", log.Err(errors.New("out of arena")))
	assert.Contains(t, buf.String(), `error="out of arena"`)

	buf.Reset()
	logger.Error("no cause", log.Err(nil))
	assert.Contains(t, buf.String(), "error=")
}
