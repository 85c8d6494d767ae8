package client

import (
	"fmt"
	"time"
)

// TimeoutError reports that a call's deadline elapsed before a Response
// arrived. The pending entry is removed, so a Response arriving later is
// dropped as an orphan; server-side execution is not stopped.
type TimeoutError struct {
	Method string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("call %q timed out after %s", e.Method, e.After)
	}
	return fmt.Sprintf("call %q timed out", e.Method)
}

// ConnectionError reports that the client's connection was lost or closed.
// Every call pending at that moment fails with it.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
