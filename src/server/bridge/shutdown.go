package bridge

import (
	"context"

	"lsp-bridge/src/internal/common"
	"lsp-bridge/src/internal/constants"
	"lsp-bridge/src/internal/errors"
	"lsp-bridge/src/internal/types"
	"lsp-bridge/src/server/protocol"
)

// Close drives this connection's graceful shutdown: shutdown request,
// wait for its response, exit notification, then SIGTERM/SIGKILL for
// whatever is left. Bounded by ctx; the pool passes one Global Shutdown
// deadline shared by all connections. Entering Closing cancels the
// liveness timer outright, the shutdown tier outranks it. Always ends in
// Closed, whatever the handshake does.
func (c *Connection) Close(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	wasFailed := c.state == StateFailed
	c.state = StateClosing
	c.failAllLocked(errors.NewConnectionError(c.language, errors.ReasonClosing, nil))
	info := c.info
	c.mu.Unlock()

	// A Failed connection has no process worth talking to.
	if !wasFailed && info != nil && !info.Exited() {
		id := c.nextID.Add(1) - 1
		if _, err := c.rawRequest(ctx, id, types.MethodShutdown, nil, constants.ShutdownHandshakeTimeout); err != nil {
			common.BridgeLogger.Debug("Shutdown request for %s failed: %v", c.language, err)
		}

		if err := c.writeMessage(protocol.CreateNotification(types.MethodExit, nil)); err != nil {
			common.BridgeLogger.Debug("Exit notification for %s failed: %v", c.language, err)
		}

		select {
		case <-info.Done():
		case <-ctx.Done():
		}
	}

	if info != nil {
		if ctx.Err() != nil && !info.Exited() {
			common.BridgeLogger.Warn("Shutdown deadline passed for %s server, escalating", c.language)
		}
		// SIGTERM, a short grace, then SIGKILL. The grace may overshoot
		// the global deadline slightly; the deadline bounds the handshake,
		// not the kill escalation.
		c.procMgr.ForceStop(info)
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	common.BridgeLogger.Info("Connection for %s closed", c.language)
}
