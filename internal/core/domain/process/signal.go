package process

import (
	"os"
	"syscall"
)

// Signal represents signals that can be sent to processes
type Signal int

const (
	SignalTerminate Signal = iota // SIGTERM
	SignalInterrupt               // SIGINT
	SignalKill                    // SIGKILL
)

// ParseSignal maps a signal name to a Signal, defaulting to SIGTERM
func ParseSignal(name string) Signal {
	switch name {
	case "SIGINT", "INT":
		return SignalInterrupt
	case "SIGKILL", "KILL":
		return SignalKill
	default:
		return SignalTerminate
	}
}

// ConvertSignal converts a domain Signal to an os.Signal
func ConvertSignal(signal Signal) os.Signal {
	switch signal {
	case SignalTerminate:
		return syscall.SIGTERM
	case SignalInterrupt:
		return syscall.SIGINT
	case SignalKill:
		return syscall.SIGKILL
	default:
		return syscall.SIGTERM
	}
}
