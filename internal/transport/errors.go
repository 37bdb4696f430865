package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failed outbound send.
type ErrorKind int

const (
	// Transient failures may succeed on retry (rate limits, 5xx, network).
	Transient ErrorKind = iota + 1
	// Permanent failures never succeed for this recipient (blocked, deactivated, unknown chat).
	Permanent
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// SendError is returned by Adapter send methods when the platform rejected the call.
type SendError struct {
	Kind       ErrorKind
	RetryAfter time.Duration // server hint, zero when absent
	Err        error
}

func (e *SendError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("send %s (retry after %s): %v", e.Kind, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("send %s: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// KindOf reports the kind of a send failure. Unclassified errors are transient.
func KindOf(err error) ErrorKind {
	var se *SendError
	if errors.As(err, &se) && se.Kind != 0 {
		return se.Kind
	}
	return Transient
}

// RetryAfterOf returns the server-provided backoff hint, if any.
func RetryAfterOf(err error) time.Duration {
	var se *SendError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}
