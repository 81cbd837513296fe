// Package errors provides the bridge error taxonomy and JSON-RPC error codes.
package errors

// Standard JSON-RPC error codes
const (
	ParseError     = -32700 // Invalid JSON was received by the server
	InvalidRequest = -32600 // The JSON sent is not a valid Request object
	MethodNotFound = -32601 // The method does not exist / is not available
	InvalidParams  = -32602 // Invalid method parameter(s)
	InternalError  = -32603 // Internal JSON-RPC error
)

// LSP-specific error codes as defined in the LSP 3.17 specification
const (
	ServerNotInitialized = -32002 // Request arrived before the server reached Ready
	UnknownErrorCode     = -32001 // Unknown error code
	RequestCancelled     = -32800 // Request was cancelled by the client
	ContentModified      = -32801 // Content was modified while the request was in flight
	ServerCancelled      = -32802 // Server-initiated cancellation
	RequestFailed        = -32803 // Request failed with an unrecoverable error
)

// Failure reasons carried in the error data of RequestFailed responses so
// callers can tell a stale result apart from a broken server.
const (
	ReasonTimeout    = "timeout"
	ReasonSuperseded = "superseded"
	ReasonLiveness   = "liveness"
	ReasonTransport  = "transport"
	ReasonClosing    = "closing"
)
