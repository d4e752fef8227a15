package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common errors returned by the transport.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// ErrorClass categorizes a request failure.
type ErrorClass string

const (
	// ErrorClassTimeout represents attempts that exceeded their deadline.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassConnection represents connection-level network failures.
	ErrorClassConnection ErrorClass = "connection"

	// ErrorClassServer represents retryable upstream HTTP errors
	// (429, 500, 502, 503, 504).
	ErrorClassServer ErrorClass = "server"

	// ErrorClassClient represents terminal 4xx client errors.
	ErrorClassClient ErrorClass = "client"
)

// Error is a classified transport failure.
type Error struct {
	Class      ErrorClass
	StatusCode int
	URL        string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s error (status %d): %s", e.Class, e.StatusCode, e.URL)
	}
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error: %s: %v", e.Class, e.URL, e.Err)
	}
	return fmt.Sprintf("upstream %s error: %s", e.Class, e.URL)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is worth another attempt.
// Timeouts and connection failures always are; HTTP errors only for the
// 429/500/502/503/504 status set. Other 4xx are caller mistakes, not
// infrastructure failures.
func (e *Error) Retryable() bool {
	switch e.Class {
	case ErrorClassTimeout, ErrorClassConnection:
		return true
	case ErrorClassServer:
		return retryableStatus(e.StatusCode)
	default:
		return false
	}
}

// retryableStatus reports whether an HTTP status is worth retrying.
func retryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// classifyStatus maps an HTTP error status to its class.
func classifyStatus(status int) ErrorClass {
	if status >= 400 && status < 500 && status != 429 {
		return ErrorClassClient
	}
	return ErrorClassServer
}

// classifyNetErr maps a request-level error to timeout or connection.
func classifyNetErr(err error) ErrorClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassTimeout
	}
	return ErrorClassConnection
}
