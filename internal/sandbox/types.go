package sandbox

import (
	"errors"
	"time"
)

var (
	// ErrExecTimeout is returned when script code runs past ExecTimeout.
	ErrExecTimeout = errors.New("script execution timeout exceeded")
	// ErrNotFunction is returned when a required global is missing or not
	// callable.
	ErrNotFunction = errors.New("global is not a function")
	// ErrClosed is returned once the runtime is closed.
	ErrClosed = errors.New("runtime closed")
	// ErrValueTooLarge is returned when a script value has more items than
	// one export may carry.
	ErrValueTooLarge = errors.New("value too large to export")
)

// maxConsoleEntries bounds the retained console history.
const maxConsoleEntries = 200

// LogEntry represents console output
type LogEntry struct {
	Level   string    // log, info, warn, error, debug
	Message string    // Log message
	Time    time.Time // Timestamp
}
