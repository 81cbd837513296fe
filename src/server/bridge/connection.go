// Package bridge owns the downstream server connections: one lifecycle
// state machine, request correlator and liveness supervisor per
// (language, server) pair, plus the pool that routes bridged requests.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"lsp-bridge/src/config"
	"lsp-bridge/src/internal/common"
	"lsp-bridge/src/internal/errors"
	"lsp-bridge/src/internal/types"
	"lsp-bridge/src/server/process"
	"lsp-bridge/src/server/protocol"
)

// ConnectionState is the lifecycle state of one downstream connection
type ConnectionState int32

const (
	StateInitializing ConnectionState = iota
	StateReady
	StateFailed
	StateClosing
	StateClosed
)

// String returns the state name
func (s ConnectionState) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateReady:
		return "Ready"
	case StateFailed:
		return "Failed"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Timeouts carries the resolved timeout tiers for one connection
type Timeouts struct {
	Init     time.Duration
	Liveness time.Duration
	Shutdown time.Duration
	Request  time.Duration
}

// TimeoutsFromConfig resolves the configured tiers to concrete values
func TimeoutsFromConfig(tc config.TimeoutConfig) Timeouts {
	return Timeouts{
		Init:     tc.InitOrDefault(),
		Liveness: tc.LivenessOrDefault(),
		Shutdown: tc.ShutdownOrDefault(),
		Request:  tc.RequestOrDefault(),
	}
}

// initializeRequestID is reserved for the initialize request; user
// requests start at 2.
const initializeRequestID int64 = 1

type response struct {
	result json.RawMessage
	rpcErr *protocol.RPCError
	err    error
}

type pendingRequest struct {
	id     int64
	method string
	kind   types.RequestKind

	// respCh is buffered so the reader goroutine never blocks on a
	// caller that already gave up.
	respCh chan *response

	// delivered guards against double resolution: a request resolves
	// exactly once, by response, timeout or supersede, whichever wins.
	delivered bool
}

// Pending is the caller's handle to an in-flight request
type Pending struct {
	id     int64
	method string
	kind   types.RequestKind
	respCh chan *response
}

// ID returns the downstream request id, used for $/cancelRequest routing
func (p *Pending) ID() int64 { return p.id }

// Connection drives one downstream server: its process, its correlator
// and its timers. A Connection is single-use: once Failed or Closed it is
// replaced by a fresh spawn, never restarted in place.
type Connection struct {
	language string
	cfg      types.ServerConfig
	timeouts Timeouts
	procMgr  process.Manager

	nextID atomic.Int64

	mu            sync.Mutex
	state         ConnectionState
	pending       map[int64]*pendingRequest
	latestByKind  map[types.RequestKind]int64
	livenessTimer *time.Timer

	writeMu sync.Mutex
	info    *process.ProcessInfo

	// onFailure is invoked once, outside the lock, when the connection
	// leaves Ready for Failed. The pool uses it to drop document state.
	onFailure   func(*Connection)
	failureOnce sync.Once
}

// NewConnection creates a connection in Initializing state. Call Start to
// spawn the process and run the handshake.
func NewConnection(language string, cfg types.ServerConfig, timeouts Timeouts, procMgr process.Manager) *Connection {
	c := &Connection{
		language:     language,
		cfg:          cfg,
		timeouts:     timeouts,
		procMgr:      procMgr,
		state:        StateInitializing,
		pending:      make(map[int64]*pendingRequest),
		latestByKind: make(map[types.RequestKind]int64),
	}
	c.nextID.Store(initializeRequestID + 1)
	return c
}

// Language returns the connection's language id
func (c *Connection) Language() string { return c.language }

// State returns the current lifecycle state
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetOnFailure installs the failure hook. Must be called before Start.
func (c *Connection) SetOnFailure(fn func(*Connection)) {
	c.onFailure = fn
}

// Start spawns the downstream process and runs the initialize handshake,
// transitioning Initializing to Ready. On any error the connection is
// Failed and the process, if spawned, is stopped; the next acquire for
// this language triggers a fresh spawn.
func (c *Connection) Start(ctx context.Context) error {
	info, err := c.procMgr.StartProcess(c.cfg, c.language)
	if err != nil {
		c.transitionToFailed(errors.ReasonTransport, err)
		return errors.NewProcessError(c.language, c.cfg.Command, "start", err)
	}

	c.mu.Lock()
	c.info = info
	c.mu.Unlock()

	go c.readLoop(info)
	go c.drainStderr(info)
	go c.procMgr.MonitorProcess(info, c.onProcessExit)

	if err := c.handshake(ctx); err != nil {
		c.transitionToFailed(errors.ReasonTransport, err)
		c.procMgr.ForceStop(info)
		return err
	}

	c.mu.Lock()
	if c.state != StateInitializing {
		// Lost a race with shutdown or a crash during the handshake.
		state := c.state
		c.mu.Unlock()
		return errors.NewNotInitializedError(c.language, state.String())
	}
	c.state = StateReady
	c.mu.Unlock()

	common.BridgeLogger.Info("Connection for %s is ready", c.language)
	return nil
}

// Begin assigns the next request id, registers the pending entry, applies
// superseding, and writes the framed request. The caller must follow up
// with Await or Discard.
func (c *Connection) Begin(method string, params interface{}, kind types.RequestKind) (*Pending, error) {
	id := c.nextID.Add(1) - 1

	c.mu.Lock()
	if c.state != StateReady {
		state := c.state
		c.mu.Unlock()
		return nil, errors.NewNotInitializedError(c.language, state.String())
	}

	pr := &pendingRequest{
		id:     id,
		method: method,
		kind:   kind,
		respCh: make(chan *response, 1),
	}

	if kind.Incremental() {
		c.supersedeLocked(kind)
		c.latestByKind[kind] = id
	}

	c.pending[id] = pr
	c.startLivenessLocked()
	c.mu.Unlock()

	msg := protocol.CreateMessage(method, id, params)
	if err := c.writeMessage(msg); err != nil {
		c.removePending(id)
		c.transitionToFailed(errors.ReasonTransport, err)
		return nil, errors.NewConnectionError(c.language, errors.ReasonTransport, err)
	}

	return &Pending{id: id, method: method, kind: kind, respCh: pr.respCh}, nil
}

// Await blocks until the request resolves: a matching response arrives,
// the per-request timeout elapses, the request is superseded, or the
// caller's context ends. Timeout and supersede are mutually exclusive;
// whichever fires first wins.
func (c *Connection) Await(ctx context.Context, p *Pending) (json.RawMessage, error) {
	timer := time.NewTimer(c.timeouts.Request)
	defer timer.Stop()

	select {
	case resp := <-p.respCh:
		if resp.err != nil {
			return nil, resp.err
		}
		if resp.rpcErr != nil {
			return nil, errors.NewDownstreamError(resp.rpcErr.Code, resp.rpcErr.Message, resp.rpcErr.Data)
		}
		return resp.result, nil

	case <-timer.C:
		if !c.resolveTimeout(p.id) {
			// A response or supersede won the race; take it.
			resp := <-p.respCh
			if resp.err != nil {
				return nil, resp.err
			}
			if resp.rpcErr != nil {
				return nil, errors.NewDownstreamError(resp.rpcErr.Code, resp.rpcErr.Message, resp.rpcErr.Data)
			}
			return resp.result, nil
		}
		// Tell the server to stop working on it. The entry is already
		// gone, so a late answer is discarded.
		c.forwardCancel(p.id)
		return nil, errors.NewTimeoutError("request", c.language, p.method)

	case <-ctx.Done():
		c.removePending(p.id)
		c.forwardCancel(p.id)
		return nil, ctx.Err()
	}
}

// SendRequest is Begin followed by Await
func (c *Connection) SendRequest(ctx context.Context, method string, params interface{}, kind types.RequestKind) (json.RawMessage, error) {
	p, err := c.Begin(method, params, kind)
	if err != nil {
		return nil, err
	}
	return c.Await(ctx, p)
}

// SendNotification writes a notification to the downstream server.
// Implements documents.Notifier.
func (c *Connection) SendNotification(ctx context.Context, method string, params interface{}) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != StateReady && state != StateClosing {
		return errors.NewNotInitializedError(c.language, state.String())
	}

	if err := c.writeMessage(protocol.CreateNotification(method, params)); err != nil {
		c.transitionToFailed(errors.ReasonTransport, err)
		return errors.NewConnectionError(c.language, errors.ReasonTransport, err)
	}
	return nil
}

// ForwardCancel relays an editor-issued $/cancelRequest for a downstream
// id. The pending entry is deliberately left in place: the id still owes
// a terminal response, which is relayed upward when it arrives.
func (c *Connection) ForwardCancel(downstreamID int64) {
	c.forwardCancel(downstreamID)
}

func (c *Connection) forwardCancel(id int64) {
	params := map[string]interface{}{"id": id}
	if err := c.writeMessage(protocol.CreateNotification(types.MethodCancelRequest, params)); err != nil {
		common.BridgeLogger.Debug("Failed to forward cancel for %s id=%d: %v", c.language, id, err)
	}
}

// supersedeLocked fails the still-pending older request of the same kind
// with a superseded error. Its correlator entry stays until the
// downstream answers: a JSON-RPC id must receive exactly one terminal
// response, and the entry is what absorbs it.
func (c *Connection) supersedeLocked(kind types.RequestKind) {
	oldID, ok := c.latestByKind[kind]
	if !ok {
		return
	}
	old := c.pending[oldID]
	if old == nil || old.delivered {
		return
	}
	old.delivered = true
	old.respCh <- &response{err: errors.NewSupersededError(old.method, old.id)}
	common.BridgeLogger.Debug("Superseded %s request id=%d on %s", kind, oldID, c.language)
}

// resolveTimeout resolves a request as timed out. Returns false if the
// request already resolved another way.
func (c *Connection) resolveTimeout(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	pr := c.pending[id]
	if pr == nil || pr.delivered {
		return false
	}
	pr.delivered = true
	delete(c.pending, id)
	c.stopLivenessIfIdleLocked()
	return true
}

func (c *Connection) removePending(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pr := c.pending[id]; pr != nil {
		pr.delivered = true
		delete(c.pending, id)
		c.stopLivenessIfIdleLocked()
	}
}

func (c *Connection) writeMessage(msg protocol.JSONRPCMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	info := c.info
	c.mu.Unlock()
	if info == nil || info.Stdin == nil {
		return errors.NewConnectionError(c.language, errors.ReasonTransport, nil)
	}
	return protocol.WriteMessage(info.Stdin, msg)
}

// readLoop is the single reader goroutine for this connection. When the
// stream ends the connection has lost its process.
func (c *Connection) readLoop(info *process.ProcessInfo) {
	err := protocol.ReadMessages(info.Stdout, c, info.StopCh)
	if err != nil {
		common.BridgeLogger.Warn("Read loop for %s ended: %v", c.language, err)
	}
	c.transitionToFailed(errors.ReasonTransport, err)
}

func (c *Connection) drainStderr(info *process.ProcessInfo) {
	scanner := bufio.NewScanner(info.Stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		common.ProcessLogger.Debug("%s stderr: %s", c.language, scanner.Text())
	}
}

func (c *Connection) onProcessExit(err error) {
	c.transitionToFailed(errors.ReasonTransport, err)
}

// HandleResponse implements protocol.MessageHandler. Any stdout activity
// proves the server alive, so the liveness timer resets before routing.
func (c *Connection) HandleResponse(id interface{}, result json.RawMessage, rpcErr *protocol.RPCError) error {
	c.touchLiveness()

	numericID, ok := protocol.IDToInt64(id)
	if !ok {
		common.BridgeLogger.Warn("Response from %s with unusable id %v", c.language, id)
		return nil
	}

	c.mu.Lock()
	pr := c.pending[numericID]
	if pr == nil {
		c.mu.Unlock()
		common.BridgeLogger.Debug("Late or unknown response id=%d from %s", numericID, c.language)
		return nil
	}
	delete(c.pending, numericID)
	alreadyDelivered := pr.delivered
	if !alreadyDelivered {
		pr.delivered = true
	}
	c.stopLivenessIfIdleLocked()
	c.mu.Unlock()

	if alreadyDelivered {
		// Terminal response for a superseded request; the caller was
		// already told, the entry just needed the answer to retire it.
		return nil
	}

	pr.respCh <- &response{result: result, rpcErr: rpcErr}
	return nil
}

// HandleNotification implements protocol.MessageHandler. Notifications
// reset liveness even when unrelated to any pending request: a slow but
// alive server often emits progress before results.
func (c *Connection) HandleNotification(method string, params json.RawMessage) error {
	c.touchLiveness()
	common.BridgeLogger.Debug("Notification %s from %s", method, c.language)
	return nil
}

// HandleRequest implements protocol.MessageHandler. Server-initiated
// requests get an empty result so the server does not stall waiting.
func (c *Connection) HandleRequest(method string, id interface{}, params json.RawMessage) error {
	c.touchLiveness()
	common.BridgeLogger.Debug("Server request %s from %s", method, c.language)
	return c.writeMessage(protocol.CreateResponse(id, nil, nil))
}

// startLivenessLocked arms the liveness timer on the 0 -> 1 pending
// transition while Ready. Held under c.mu.
func (c *Connection) startLivenessLocked() {
	if c.state != StateReady || len(c.pending) != 1 || c.livenessTimer != nil {
		return
	}
	c.livenessTimer = time.AfterFunc(c.timeouts.Liveness, c.onLivenessExpired)
}

// stopLivenessIfIdleLocked disarms the timer, without any state change,
// once nothing is pending.
func (c *Connection) stopLivenessIfIdleLocked() {
	if len(c.pending) == 0 && c.livenessTimer != nil {
		c.livenessTimer.Stop()
		c.livenessTimer = nil
	}
}

func (c *Connection) touchLiveness() {
	c.mu.Lock()
	if c.livenessTimer != nil {
		c.livenessTimer.Reset(c.timeouts.Liveness)
	}
	c.mu.Unlock()
}

func (c *Connection) onLivenessExpired() {
	c.mu.Lock()
	if c.state != StateReady || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	common.BridgeLogger.Error("Liveness timeout for %s with %d pending requests", c.language, len(c.pending))
	c.state = StateFailed
	c.failAllLocked(errors.NewConnectionError(c.language, errors.ReasonLiveness, nil))
	info := c.info
	c.mu.Unlock()

	c.notifyFailure()
	if info != nil {
		go c.procMgr.ForceStop(info)
	}
}

// failAllLocked resolves every undelivered pending request with err and
// clears the map. Held under c.mu.
func (c *Connection) failAllLocked(err error) {
	for id, pr := range c.pending {
		if !pr.delivered {
			pr.delivered = true
			pr.respCh <- &response{err: err}
		}
		delete(c.pending, id)
	}
	if c.livenessTimer != nil {
		c.livenessTimer.Stop()
		c.livenessTimer = nil
	}
}

// transitionToFailed moves the connection to Failed unless it is already
// terminal, failing all pending requests. Transport errors never surface
// as partial JSON to callers; they become this single failure.
func (c *Connection) transitionToFailed(reason string, cause error) {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed || c.state == StateFailed {
		c.mu.Unlock()
		return
	}
	c.state = StateFailed
	c.failAllLocked(errors.NewConnectionError(c.language, reason, cause))
	c.mu.Unlock()

	c.notifyFailure()
}

func (c *Connection) notifyFailure() {
	c.failureOnce.Do(func() {
		if c.onFailure != nil {
			c.onFailure(c)
		}
	})
}

// PendingCount reports the number of correlator entries, superseded ones
// included; they still await their terminal downstream response.
func (c *Connection) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// LivenessArmed reports whether the liveness timer is currently running
func (c *Connection) LivenessArmed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.livenessTimer != nil
}
