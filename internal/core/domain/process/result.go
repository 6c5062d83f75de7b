package process

// BufferFlags selects which output streams the watcher accumulates into the
// final Result in addition to emitting them as progress chunks.
type BufferFlags uint8

const (
	BufferNone   BufferFlags = 0
	BufferStdout BufferFlags = 1 << 0
	BufferStderr BufferFlags = 1 << 1
	BufferAll                = BufferStdout | BufferStderr
)

// Has reports whether all flags in f are set
func (b BufferFlags) Has(f BufferFlags) bool {
	return b&f == f
}

// ParseBufferFlags maps a config/flag string to BufferFlags
func ParseBufferFlags(s string) BufferFlags {
	switch s {
	case "stdout":
		return BufferStdout
	case "stderr":
		return BufferStderr
	case "all":
		return BufferAll
	default:
		return BufferNone
	}
}

// Source identifies which output stream a chunk came from
type Source string

const (
	SourceStdout Source = "stdout"
	SourceStderr Source = "stderr"
)

// StreamChunk is one incremental piece of child output
type StreamChunk struct {
	Source Source
	Data   []byte
}

// Status is a point-in-time view of the child process, as reported by the
// launcher adapter.
type Status struct {
	Running    bool
	ExitCode   int
	Signaled   bool
	TermSignal int
	PID        int
}

// Result is the terminal outcome of a watched process. Stdout and Stderr are
// non-nil iff buffering was requested for the stream; a stream that produced
// no output before closing yields an empty, non-nil slice.
type Result struct {
	Stdout     []byte
	Stderr     []byte
	ExitCode   int
	Signaled   bool
	TermSignal int
}
