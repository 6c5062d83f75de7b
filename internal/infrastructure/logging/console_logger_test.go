package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"spawnio.dev/cli/internal/core/ports"
)

func TestConsoleLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf, ports.LogLevelWarn)

	logger.Log(ports.LogLevelDebug, "hidden", nil)
	logger.Log(ports.LogLevelInfo, "also hidden", nil)
	logger.Log(ports.LogLevelWarn, "visible warning", nil)
	logger.Log(ports.LogLevelError, "visible error", nil)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN: visible warning")
	assert.Contains(t, out, "ERROR: visible error")
}

func TestConsoleLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf, ports.LogLevelDebug)

	logger.Log(ports.LogLevelInfo, "chunk dropped", map[string]interface{}{"source": "stdout"})

	assert.Contains(t, buf.String(), "chunk dropped")
	assert.Contains(t, buf.String(), "source:stdout")
}

func TestConsoleLogger_LogError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf, ports.LogLevelError)

	logger.LogError(errors.New("boom"), "write failed", nil)

	assert.Contains(t, buf.String(), "ERROR: write failed: boom")
}

func TestConsoleLogger_SetLogLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf, ports.LogLevelError)

	logger.Log(ports.LogLevelInfo, "before", nil)
	logger.SetLogLevel(ports.LogLevelInfo)
	logger.Log(ports.LogLevelInfo, "after", nil)

	assert.NotContains(t, buf.String(), "before")
	assert.Contains(t, buf.String(), "after")
	assert.Equal(t, ports.LogLevelInfo, logger.GetLogLevel())
}
