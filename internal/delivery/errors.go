package delivery

import (
	"errors"
	"fmt"
)

// StatusError means the server answered with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server responded %d: %s", e.StatusCode, e.Body)
}

// NoResponseError means the request was sent but no response arrived:
// timeouts, refused connections, DNS failures.
type NoResponseError struct {
	Err error
}

func (e *NoResponseError) Error() string {
	return fmt.Sprintf("no response received from server: %v", e.Err)
}

func (e *NoResponseError) Unwrap() error { return e.Err }

// RequestError means the request could not be built.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("build request: %v", e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// OpError is the final error of a delivery operation after all attempts.
// Err is the error of the last attempt.
type OpError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *OpError) Error() string {
	var se *StatusError
	var nr *NoResponseError
	switch {
	case errors.As(e.Err, &se):
		return fmt.Sprintf("%s: %d - %s", e.Op, se.StatusCode, se.Body)
	case errors.As(e.Err, &nr):
		return fmt.Sprintf("%s: no response received from server: %v", e.Op, nr.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *OpError) Unwrap() error { return e.Err }
