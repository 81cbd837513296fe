package errors

import (
	"errors"
	"fmt"
)

// TimeoutError reports that a bridged operation exceeded its timeout tier.
type TimeoutError struct {
	Operation string // "initialize", "request", "shutdown"
	Language  string
	Method    string
}

func (e *TimeoutError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("%s timeout for %s (%s)", e.Operation, e.Method, e.Language)
	}
	return fmt.Sprintf("%s timeout (%s)", e.Operation, e.Language)
}

// NewTimeoutError creates a TimeoutError for the given operation
func NewTimeoutError(operation, language, method string) error {
	return &TimeoutError{Operation: operation, Language: language, Method: method}
}

// SupersededError reports that a newer incremental request of the same kind
// replaced a still-pending older one. It is an expected outcome, not a fault.
type SupersededError struct {
	Method string
	ID     int64
}

func (e *SupersededError) Error() string {
	return fmt.Sprintf("request %d (%s) superseded by a newer request of the same kind", e.ID, e.Method)
}

// NewSupersededError creates a SupersededError
func NewSupersededError(method string, id int64) error {
	return &SupersededError{Method: method, ID: id}
}

// NotInitializedError reports a request issued before the connection was Ready.
type NotInitializedError struct {
	Language string
	State    string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("downstream server for %s not initialized (state %s)", e.Language, e.State)
}

// NewNotInitializedError creates a NotInitializedError
func NewNotInitializedError(language, state string) error {
	return &NotInitializedError{Language: language, State: state}
}

// ConnectionError reports a transport-level failure: broken pipe, process
// exit, malformed framing. It always drives the owning connection to Failed.
type ConnectionError struct {
	Language string
	Reason   string
	Cause    error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection to %s server failed (%s): %v", e.Language, e.Reason, e.Cause)
	}
	return fmt.Sprintf("connection to %s server failed (%s)", e.Language, e.Reason)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// NewConnectionError creates a ConnectionError
func NewConnectionError(language, reason string, cause error) error {
	return &ConnectionError{Language: language, Reason: reason, Cause: cause}
}

// ProcessError reports a failure to start or stop a downstream server process.
type ProcessError struct {
	Language string
	Command  string
	Type     string // "start" or "stop"
	Cause    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("failed to %s %s server (%s): %v", e.Type, e.Language, e.Command, e.Cause)
}

func (e *ProcessError) Unwrap() error { return e.Cause }

// NewProcessError creates a ProcessError
func NewProcessError(language, command, typ string, cause error) error {
	return &ProcessError{Language: language, Command: command, Type: typ, Cause: cause}
}

// DownstreamError carries a JSON-RPC error returned by the downstream server,
// relayed upward unchanged.
type DownstreamError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("downstream error %d: %s", e.Code, e.Message)
}

// NewDownstreamError wraps a downstream JSON-RPC error
func NewDownstreamError(code int, message string, data interface{}) error {
	return &DownstreamError{Code: code, Message: message, Data: data}
}

// IsTimeout reports whether err is a TimeoutError
func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

// IsSuperseded reports whether err is a SupersededError
func IsSuperseded(err error) bool {
	var s *SupersededError
	return errors.As(err, &s)
}

// IsNotInitialized reports whether err is a NotInitializedError
func IsNotInitialized(err error) bool {
	var n *NotInitializedError
	return errors.As(err, &n)
}

// IsConnectionError reports whether err is a ConnectionError
func IsConnectionError(err error) bool {
	var c *ConnectionError
	return errors.As(err, &c)
}

// IsProcessError reports whether err is a ProcessError
func IsProcessError(err error) bool {
	var p *ProcessError
	return errors.As(err, &p)
}

// IsDownstreamError reports whether err is a DownstreamError
func IsDownstreamError(err error) bool {
	var d *DownstreamError
	return errors.As(err, &d)
}
