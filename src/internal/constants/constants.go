package constants

import "time"

// Process management
const (
	// KillGracePeriod is how long a downstream process gets between
	// SIGTERM and SIGKILL.
	KillGracePeriod = 2 * time.Second

	// ShutdownHandshakeTimeout bounds the shutdown request leg of the
	// graceful handshake for a single connection.
	ShutdownHandshakeTimeout = 2 * time.Second
)

// Transport
const (
	// ResponseBufferSize sizes the buffered reader on each downstream
	// stdout. Large responses (completion lists, workspace edits) can
	// exceed the bufio default.
	ResponseBufferSize = 1024 * 1024
)
