package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"lsp-bridge/src/config"
	"lsp-bridge/src/internal/common"
	"lsp-bridge/src/internal/errors"
	"lsp-bridge/src/internal/types"
	"lsp-bridge/src/server/documents"
	"lsp-bridge/src/server/process"
	"lsp-bridge/src/server/translate"
)

// Request describes one bridged feature request from the editor side.
// Fields beyond Method, HostURI, Region and Content are method-specific.
type Request struct {
	Method  string
	HostURI string
	Region  types.InjectionRegion

	// Content is the region's current text, used to keep the virtual
	// document in sync before the request goes out.
	Content string

	Position           *types.Position
	Positions          []types.Position
	Range              *types.Range
	NewName            string
	IncludeDeclaration bool
	Color              interface{}

	// UpstreamID is the editor's request id. Registering it lets a
	// later $/cancelRequest from the editor reach the right downstream
	// request.
	UpstreamID interface{}
}

type upstreamEntry struct {
	conn         *Connection
	downstreamID int64
}

// Pool is the top-level bridge entry point: it maps a language to its
// lazily spawned connection, executes bridged requests end to end, and
// orchestrates global shutdown. Connections for different languages
// never share a lock.
type Pool struct {
	cfg      *config.Config
	timeouts Timeouts
	procMgr  process.Manager
	docs     *documents.SyncManager

	conns    sync.Map // language -> *connSlot
	upstream sync.Map // upstream id (string form) -> *upstreamEntry
	closed   atomic.Bool
}

// connSlot serializes spawn/replace for one language
type connSlot struct {
	mu   sync.Mutex
	conn *Connection
}

// NewPool creates a pool using the given configuration
func NewPool(cfg *config.Config, procMgr process.Manager) *Pool {
	if procMgr == nil {
		procMgr = process.NewLSPProcessManager()
	}
	return &Pool{
		cfg:      cfg,
		timeouts: TimeoutsFromConfig(cfg.Timeouts),
		procMgr:  procMgr,
		docs:     documents.NewSyncManager(),
	}
}

// Documents exposes the pool's virtual document synchronizer
func (p *Pool) Documents() *documents.SyncManager {
	return p.docs
}

// Acquire returns the connection owning a language, spawning it on first
// use and respawning after failure. Idempotent: an existing live
// connection is returned as-is. Callers hitting a connection that is
// still Initializing get SERVER_NOT_INITIALIZED from Begin rather than
// queuing behind the handshake.
func (p *Pool) Acquire(ctx context.Context, language string) (*Connection, error) {
	if p.closed.Load() {
		return nil, errors.NewConnectionError(language, errors.ReasonClosing, nil)
	}

	slotAny, _ := p.conns.LoadOrStore(language, &connSlot{})
	slot := slotAny.(*connSlot)

	slot.mu.Lock()
	existing := slot.conn
	if existing != nil {
		state := existing.State()
		if state != StateFailed && state != StateClosed {
			slot.mu.Unlock()
			return existing, nil
		}
	}

	serverCfg, ok := p.cfg.ServerFor(language)
	if !ok {
		slot.mu.Unlock()
		return nil, fmt.Errorf("no downstream server configured for language %q", language)
	}

	conn := NewConnection(language, serverCfg, p.timeouts, p.procMgr)
	conn.SetOnFailure(func(failed *Connection) {
		p.docs.ForgetConnection(failed)
	})
	slot.conn = conn
	slot.mu.Unlock()

	if existing != nil {
		common.BridgeLogger.Info("Respawning %s server after %s", language, existing.State())
	}

	if err := conn.Start(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// Bridge executes one bridged request: acquire the region's connection,
// sync the virtual document, build the translated request, send it, and
// rewrite the response into host coordinates.
func (p *Pool) Bridge(ctx context.Context, req Request) (json.RawMessage, error) {
	conn, err := p.Acquire(ctx, req.Region.Language)
	if err != nil {
		return nil, err
	}

	virtualURI, err := p.docs.EnsureOpen(ctx, conn, req.HostURI, req.Region, req.Content)
	if err != nil {
		return nil, err
	}

	rc := translate.RegionContext{
		HostURI:    req.HostURI,
		VirtualURI: virtualURI,
		StartLine:  req.Region.StartLine,
	}

	params, err := buildParams(req, rc)
	if err != nil {
		return nil, err
	}

	pending, err := conn.Begin(req.Method, params, types.KindForMethod(req.Method))
	if err != nil {
		return nil, err
	}

	if req.UpstreamID != nil {
		key := upstreamKey(req.UpstreamID)
		p.upstream.Store(key, &upstreamEntry{conn: conn, downstreamID: pending.ID()})
		defer p.upstream.Delete(key)
	}

	raw, err := conn.Await(ctx, pending)
	if err != nil {
		return nil, err
	}

	if req.Method == types.MethodTextDocumentSelectionRange {
		return translate.TransformSelectionRanges(raw, rc, req.Positions), nil
	}
	return translate.TransformResponse(req.Method, raw, rc), nil
}

// Cancel forwards an editor-issued $/cancelRequest to the downstream
// server owning the request. The correlator entry stays; only the
// eventual terminal response retires it.
func (p *Pool) Cancel(upstreamID interface{}) {
	entryAny, ok := p.upstream.Load(upstreamKey(upstreamID))
	if !ok {
		return
	}
	entry := entryAny.(*upstreamEntry)
	entry.conn.ForwardCancel(entry.downstreamID)
}

// CloseHostDocument closes every virtual document the host document
// opened, across all connections it used. The connections stay up.
func (p *Pool) CloseHostDocument(ctx context.Context, hostURI string) {
	p.docs.CloseHost(ctx, hostURI)
}

// ShutdownAll drives every connection's Closing transition concurrently,
// bounded by the single Global Shutdown timeout regardless of connection
// count. Connections still alive at the deadline are force-killed.
func (p *Pool) ShutdownAll() {
	p.closed.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), p.timeouts.Shutdown)
	defer cancel()

	var wg sync.WaitGroup
	p.conns.Range(func(_, slotAny interface{}) bool {
		slot := slotAny.(*connSlot)
		slot.mu.Lock()
		conn := slot.conn
		slot.mu.Unlock()
		if conn == nil {
			return true
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn.Close(ctx)
		}()
		return true
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Close goroutines are now on their no-grace kill path; give
		// them a moment to reap, then return.
		<-done
	}
	common.BridgeLogger.Info("All connections shut down")
}

// upstreamKey flattens a JSON-RPC id to a map key. The dynamic type is
// part of the key: the protocol allows both 1 and "1" as distinct ids.
func upstreamKey(id interface{}) string {
	return fmt.Sprintf("%T:%v", id, id)
}

// buildParams picks the request-builder for the method's addressing shape
func buildParams(req Request, rc translate.RegionContext) (interface{}, error) {
	switch req.Method {
	case types.MethodTextDocumentReferences:
		if req.Position == nil {
			return nil, fmt.Errorf("%s requires a position", req.Method)
		}
		return translate.ReferenceParams(rc, *req.Position, req.IncludeDeclaration), nil

	case types.MethodTextDocumentRename:
		if req.Position == nil {
			return nil, fmt.Errorf("%s requires a position", req.Method)
		}
		return translate.RenameParams(rc, *req.Position, req.NewName), nil

	case types.MethodTextDocumentDocumentSymbol,
		types.MethodTextDocumentDocumentLink,
		types.MethodTextDocumentFoldingRange,
		types.MethodTextDocumentDocumentColor:
		return translate.DocumentParams(rc), nil

	case types.MethodTextDocumentInlayHint:
		if req.Range == nil {
			return nil, fmt.Errorf("%s requires a range", req.Method)
		}
		return translate.RangeParams(rc, *req.Range), nil

	case types.MethodTextDocumentSelectionRange:
		if len(req.Positions) == 0 {
			return nil, fmt.Errorf("%s requires positions", req.Method)
		}
		return translate.SelectionRangeParams(rc, req.Positions), nil

	case types.MethodTextDocumentColorPresentation:
		if req.Range == nil {
			return nil, fmt.Errorf("%s requires a range", req.Method)
		}
		return translate.ColorPresentationParams(rc, req.Color, *req.Range), nil

	default:
		if req.Position == nil {
			return nil, fmt.Errorf("%s requires a position", req.Method)
		}
		return translate.PositionParams(rc, *req.Position), nil
	}
}
