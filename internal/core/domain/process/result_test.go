package process

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferFlags_Has(t *testing.T) {
	tests := []struct {
		name     string
		flags    BufferFlags
		query    BufferFlags
		expected bool
	}{
		{"none has nothing", BufferNone, BufferStdout, false},
		{"stdout has stdout", BufferStdout, BufferStdout, true},
		{"stdout lacks stderr", BufferStdout, BufferStderr, false},
		{"all has stdout", BufferAll, BufferStdout, true},
		{"all has stderr", BufferAll, BufferStderr, true},
		{"all has all", BufferAll, BufferAll, true},
		{"stderr lacks all", BufferStderr, BufferAll, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.flags.Has(tt.query))
		})
	}
}

func TestParseBufferFlags(t *testing.T) {
	assert.Equal(t, BufferStdout, ParseBufferFlags("stdout"))
	assert.Equal(t, BufferStderr, ParseBufferFlags("stderr"))
	assert.Equal(t, BufferAll, ParseBufferFlags("all"))
	assert.Equal(t, BufferNone, ParseBufferFlags("none"))
	assert.Equal(t, BufferNone, ParseBufferFlags(""))
	assert.Equal(t, BufferNone, ParseBufferFlags("bogus"))
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Signal
	}{
		{"full interrupt name", "SIGINT", SignalInterrupt},
		{"short interrupt name", "INT", SignalInterrupt},
		{"full kill name", "SIGKILL", SignalKill},
		{"short kill name", "KILL", SignalKill},
		{"terminate", "SIGTERM", SignalTerminate},
		{"unknown defaults to terminate", "SIGUSR1", SignalTerminate},
		{"empty defaults to terminate", "", SignalTerminate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseSignal(tt.input))
		})
	}
}

func TestConvertSignal(t *testing.T) {
	assert.Equal(t, syscall.SIGTERM, ConvertSignal(SignalTerminate))
	assert.Equal(t, syscall.SIGINT, ConvertSignal(SignalInterrupt))
	assert.Equal(t, syscall.SIGKILL, ConvertSignal(SignalKill))
	assert.Equal(t, syscall.SIGTERM, ConvertSignal(Signal(99)))
}
