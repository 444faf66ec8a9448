package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelClosed rejects calls once the endpoint is terminated or its
	// transport failed.
	ErrChannelClosed = errors.New("channel closed")
	// ErrReleased is returned when invoking a function reference whose owner
	// entry has been released.
	ErrReleased = errors.New("function reference released")
	// ErrUnsupportedValue is returned for values the channel cannot carry.
	ErrUnsupportedValue = errors.New("value cannot cross the channel")
)

// CallError reports that the remote side rejected one call. It does not
// affect any other call on the endpoint.
type CallError struct {
	Method  string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("remote %s failed: %s", e.Method, e.Message)
}

// IsCallError reports whether err is a remote rejection of a single call.
func IsCallError(err error) bool {
	var ce *CallError
	return errors.As(err, &ce)
}

func closedBy(cause error) error {
	if cause == nil || errors.Is(cause, ErrChannelClosed) {
		return ErrChannelClosed
	}
	return fmt.Errorf("%w: %v", ErrChannelClosed, cause)
}
