package bridge

import (
	stderrors "errors"

	"lsp-bridge/src/internal/errors"
	"lsp-bridge/src/server/protocol"
)

// ToRPCError converts a bridge error into the JSON-RPC error surfaced to
// the editor. Downstream protocol errors pass through unchanged; local
// outcomes map to the LSP error codes, with a reason in the data field so
// callers can tell stale results from broken servers.
func ToRPCError(err error) *protocol.RPCError {
	if err == nil {
		return nil
	}

	var downstream *errors.DownstreamError
	if stderrors.As(err, &downstream) {
		return protocol.NewRPCError(downstream.Code, downstream.Message, downstream.Data)
	}

	var notInit *errors.NotInitializedError
	if stderrors.As(err, &notInit) {
		return protocol.NewRPCError(errors.ServerNotInitialized, notInit.Error(), nil)
	}

	var superseded *errors.SupersededError
	if stderrors.As(err, &superseded) {
		return protocol.NewRPCError(errors.RequestFailed, superseded.Error(),
			map[string]interface{}{"reason": errors.ReasonSuperseded})
	}

	var timeout *errors.TimeoutError
	if stderrors.As(err, &timeout) {
		return protocol.NewRPCError(errors.RequestFailed, timeout.Error(),
			map[string]interface{}{"reason": errors.ReasonTimeout})
	}

	var conn *errors.ConnectionError
	if stderrors.As(err, &conn) {
		return protocol.NewRPCError(errors.RequestFailed, conn.Error(),
			map[string]interface{}{"reason": conn.Reason})
	}

	var proc *errors.ProcessError
	if stderrors.As(err, &proc) {
		return protocol.NewRPCError(errors.RequestFailed, proc.Error(),
			map[string]interface{}{"reason": errors.ReasonTransport})
	}

	return protocol.NewRPCError(errors.InternalError, err.Error(), nil)
}
