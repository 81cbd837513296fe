package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"lsp-bridge/src/config"
	"lsp-bridge/src/internal/errors"
	"lsp-bridge/src/internal/types"
	"lsp-bridge/src/server/documents"
	"lsp-bridge/src/server/protocol"
)

func newTestPool(servers map[string]*fakeServer, timeouts Timeouts) (*Pool, *fakeManager) {
	cfg := &config.Config{Servers: make(map[string]*types.ServerConfig)}
	for language := range servers {
		cfg.Servers[language] = &types.ServerConfig{Command: language + "-server"}
	}
	mgr := newFakeManager(servers)
	pool := &Pool{
		cfg:      cfg,
		timeouts: timeouts,
		procMgr:  mgr,
		docs:     documents.NewSyncManager(),
	}
	return pool, mgr
}

func rustRegion(ordinal uint32) types.InjectionRegion {
	return types.InjectionRegion{
		Language:  "rust",
		StartLine: 10,
		EndLine:   20,
		Ordinal:   ordinal,
	}
}

func TestBridgeHoverOpensDocumentAndTranslatesPosition(t *testing.T) {
	srv := newFakeServer()
	base := srv.onRequest
	srv.onRequest = func(s *fakeServer, method string, id interface{}, params json.RawMessage) {
		if method == types.MethodTextDocumentHover {
			s.respond(id, map[string]interface{}{"contents": "fn main()"})
			return
		}
		base(s, method, id, params)
	}
	pool, _ := newTestPool(map[string]*fakeServer{"rust": srv}, testTimeouts())
	defer pool.ShutdownAll()

	raw, err := pool.Bridge(context.Background(), Request{
		Method:   types.MethodTextDocumentHover,
		HostURI:  "file:///tmp/doc.md",
		Region:   rustRegion(0),
		Content:  "fn main() {}\n",
		Position: &types.Position{Line: 12, Character: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "fn main()", gjson.GetBytes(raw, "contents").String())

	open, ok := srv.lastNotification(types.MethodTextDocumentDidOpen)
	require.True(t, ok)
	openURI := gjson.GetBytes(open.params, "textDocument.uri").String()
	assert.Contains(t, openURI, "lspbridge-virtual-")
	assert.Contains(t, openURI, "-rust-0.rs")
	assert.Equal(t, int64(1), gjson.GetBytes(open.params, "textDocument.version").Int())
	assert.Equal(t, "fn main() {}\n", gjson.GetBytes(open.params, "textDocument.text").String())
	assert.Equal(t, "rust", gjson.GetBytes(open.params, "textDocument.languageId").String())

	hover, ok := srv.lastRequest(types.MethodTextDocumentHover)
	require.True(t, ok)
	assert.Equal(t, openURI, gjson.GetBytes(hover.params, "textDocument.uri").String())
	assert.Equal(t, int64(2), gjson.GetBytes(hover.params, "position.line").Int())
	assert.Equal(t, int64(3), gjson.GetBytes(hover.params, "position.character").Int())
}

func TestBridgeDefinitionRewritesVirtualURIToHost(t *testing.T) {
	srv := newFakeServer()
	base := srv.onRequest
	srv.onRequest = func(s *fakeServer, method string, id interface{}, params json.RawMessage) {
		if method == types.MethodTextDocumentDefinition {
			s.respond(id, map[string]interface{}{
				"uri": gjson.GetBytes(params, "textDocument.uri").String(),
				"range": map[string]interface{}{
					"start": map[string]interface{}{"line": 1, "character": 4},
					"end":   map[string]interface{}{"line": 1, "character": 9},
				},
			})
			return
		}
		base(s, method, id, params)
	}
	pool, _ := newTestPool(map[string]*fakeServer{"rust": srv}, testTimeouts())
	defer pool.ShutdownAll()

	raw, err := pool.Bridge(context.Background(), Request{
		Method:   types.MethodTextDocumentDefinition,
		HostURI:  "file:///tmp/doc.md",
		Region:   rustRegion(0),
		Content:  "fn main() {}\n",
		Position: &types.Position{Line: 11, Character: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, "file:///tmp/doc.md", gjson.GetBytes(raw, "uri").String())
	assert.Equal(t, int64(11), gjson.GetBytes(raw, "range.start.line").Int())
	assert.Equal(t, int64(4), gjson.GetBytes(raw, "range.start.character").Int())
}

func TestBridgeSendsDidChangeOnlyWhenContentDiffers(t *testing.T) {
	srv := newFakeServer()
	base := srv.onRequest
	srv.onRequest = func(s *fakeServer, method string, id interface{}, params json.RawMessage) {
		if method == types.MethodTextDocumentHover {
			s.respond(id, map[string]interface{}{"contents": "x"})
			return
		}
		base(s, method, id, params)
	}
	pool, _ := newTestPool(map[string]*fakeServer{"rust": srv}, testTimeouts())
	defer pool.ShutdownAll()

	send := func(content string) {
		_, err := pool.Bridge(context.Background(), Request{
			Method:   types.MethodTextDocumentHover,
			HostURI:  "file:///tmp/doc.md",
			Region:   rustRegion(0),
			Content:  content,
			Position: &types.Position{Line: 10, Character: 0},
		})
		require.NoError(t, err)
	}

	send("fn a() {}")
	send("fn a() {}")
	assert.Equal(t, 1, srv.notificationCount(types.MethodTextDocumentDidOpen))
	assert.Equal(t, 0, srv.notificationCount(types.MethodTextDocumentDidChange))

	send("fn b() {}")
	assert.Equal(t, 1, srv.notificationCount(types.MethodTextDocumentDidOpen))
	assert.Equal(t, 1, srv.notificationCount(types.MethodTextDocumentDidChange))
	change, ok := srv.lastNotification(types.MethodTextDocumentDidChange)
	require.True(t, ok)
	assert.Equal(t, int64(2), gjson.GetBytes(change.params, "textDocument.version").Int())
	assert.Equal(t, "fn b() {}", gjson.GetBytes(change.params, "contentChanges.0.text").String())
}

func TestBridgeUnknownLanguageFails(t *testing.T) {
	pool, _ := newTestPool(map[string]*fakeServer{"rust": newFakeServer()}, testTimeouts())
	defer pool.ShutdownAll()

	_, err := pool.Bridge(context.Background(), Request{
		Method:   types.MethodTextDocumentHover,
		HostURI:  "file:///tmp/doc.md",
		Region:   types.InjectionRegion{Language: "klingon", StartLine: 0, EndLine: 1},
		Position: &types.Position{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no downstream server configured")
}

func TestAcquireReusesLiveConnection(t *testing.T) {
	pool, _ := newTestPool(map[string]*fakeServer{"rust": newFakeServer()}, testTimeouts())
	defer pool.ShutdownAll()

	c1, err := pool.Acquire(context.Background(), "rust")
	require.NoError(t, err)
	c2, err := pool.Acquire(context.Background(), "rust")
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}

func TestAcquireRespawnsAfterFailureAndForgetsDocuments(t *testing.T) {
	srv := newFakeServer()
	base := srv.onRequest
	srv.onRequest = func(s *fakeServer, method string, id interface{}, params json.RawMessage) {
		if method == types.MethodTextDocumentHover {
			s.respond(id, map[string]interface{}{"contents": "x"})
			return
		}
		base(s, method, id, params)
	}
	pool, mgr := newTestPool(map[string]*fakeServer{"rust": srv}, testTimeouts())
	defer pool.ShutdownAll()

	_, err := pool.Bridge(context.Background(), Request{
		Method:   types.MethodTextDocumentHover,
		HostURI:  "file:///tmp/doc.md",
		Region:   rustRegion(0),
		Content:  "fn a() {}",
		Position: &types.Position{Line: 10, Character: 0},
	})
	require.NoError(t, err)

	open, ok := srv.lastNotification(types.MethodTextDocumentDidOpen)
	require.True(t, ok)
	virtualURI := gjson.GetBytes(open.params, "textDocument.uri").String()
	assert.True(t, pool.Documents().IsOpen(virtualURI))

	c1, err := pool.Acquire(context.Background(), "rust")
	require.NoError(t, err)
	mgr.latestInfo().MarkExited()
	require.Eventually(t, func() bool {
		return c1.State() == StateFailed
	}, time.Second, 10*time.Millisecond)

	// The failure hook forgot the old process's documents.
	require.Eventually(t, func() bool {
		return !pool.Documents().IsOpen(virtualURI)
	}, time.Second, 10*time.Millisecond)

	c2, err := pool.Acquire(context.Background(), "rust")
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
	assert.Equal(t, StateReady, c2.State())

	// The next bridged request re-opens the document at version 1.
	_, err = pool.Bridge(context.Background(), Request{
		Method:   types.MethodTextDocumentHover,
		HostURI:  "file:///tmp/doc.md",
		Region:   rustRegion(0),
		Content:  "fn a() {}",
		Position: &types.Position{Line: 10, Character: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, srv.notificationCount(types.MethodTextDocumentDidOpen))
	assert.Equal(t, int32(1), pool.Documents().Version(virtualURI))
}

func TestCancelRoutesToDownstreamRequest(t *testing.T) {
	timeouts := testTimeouts()
	timeouts.Request = 3 * time.Second
	srv := newFakeServer()
	pool, _ := newTestPool(map[string]*fakeServer{"rust": srv}, timeouts)
	defer pool.ShutdownAll()

	resultCh := make(chan error, 1)
	go func() {
		_, err := pool.Bridge(context.Background(), Request{
			Method:     types.MethodTextDocumentHover,
			HostURI:    "file:///tmp/doc.md",
			Region:     rustRegion(0),
			Content:    "fn a() {}",
			Position:   &types.Position{Line: 10, Character: 0},
			UpstreamID: "editor-41",
		})
		resultCh <- err
	}()

	require.Eventually(t, func() bool {
		_, ok := srv.lastRequest(types.MethodTextDocumentHover)
		return ok
	}, time.Second, 10*time.Millisecond)

	// Registration happens right after the request goes out; retry until
	// the cancel lands downstream.
	require.Eventually(t, func() bool {
		pool.Cancel("editor-41")
		_, ok := srv.lastNotification(types.MethodCancelRequest)
		return ok
	}, time.Second, 10*time.Millisecond)

	hover, _ := srv.lastRequest(types.MethodTextDocumentHover)
	cancel, _ := srv.lastNotification(types.MethodCancelRequest)
	hoverID, _ := protocol.IDToInt64(hover.id)
	assert.Equal(t, hoverID, gjson.GetBytes(cancel.params, "id").Int())

	srv.respondError(hover.id, protocol.NewRPCError(errors.RequestCancelled, "cancelled", nil))
	err := <-resultCh
	require.Error(t, err)
	var downstream *errors.DownstreamError
	require.ErrorAs(t, err, &downstream)
	assert.Equal(t, errors.RequestCancelled, downstream.Code)
}

func TestCloseHostDocumentClosesVirtualsButKeepsConnection(t *testing.T) {
	srv := newFakeServer()
	base := srv.onRequest
	srv.onRequest = func(s *fakeServer, method string, id interface{}, params json.RawMessage) {
		if method == types.MethodTextDocumentHover {
			s.respond(id, map[string]interface{}{"contents": "x"})
			return
		}
		base(s, method, id, params)
	}
	pool, _ := newTestPool(map[string]*fakeServer{"rust": srv}, testTimeouts())
	defer pool.ShutdownAll()

	bridge := func(region types.InjectionRegion) {
		_, err := pool.Bridge(context.Background(), Request{
			Method:   types.MethodTextDocumentHover,
			HostURI:  "file:///tmp/doc.md",
			Region:   region,
			Content:  "fn a() {}",
			Position: &types.Position{Line: region.StartLine, Character: 0},
		})
		require.NoError(t, err)
	}
	bridge(rustRegion(0))
	bridge(types.InjectionRegion{Language: "rust", StartLine: 30, EndLine: 40, Ordinal: 1})

	pool.CloseHostDocument(context.Background(), "file:///tmp/doc.md")
	assert.Equal(t, 2, srv.notificationCount(types.MethodTextDocumentDidClose))

	conn, err := pool.Acquire(context.Background(), "rust")
	require.NoError(t, err)
	assert.Equal(t, StateReady, conn.State())

	// Re-opening after close starts over at version 1.
	bridge(rustRegion(0))
	assert.Equal(t, 3, srv.notificationCount(types.MethodTextDocumentDidOpen))
}

func TestShutdownAllBoundedByGlobalTimeout(t *testing.T) {
	graceful := newFakeServer()
	hung := newFakeServer()
	hung.ignoreExit = true
	hung.onRequest = func(s *fakeServer, method string, id interface{}, params json.RawMessage) {
		// Answers initialize and then goes deaf: shutdown never resolves.
		if method == types.MethodInitialize {
			s.respond(id, map[string]interface{}{"capabilities": map[string]interface{}{}})
		}
	}
	timeouts := testTimeouts()
	timeouts.Shutdown = 700 * time.Millisecond
	pool, mgr := newTestPool(map[string]*fakeServer{"rust": graceful, "python": hung}, timeouts)

	c1, err := pool.Acquire(context.Background(), "rust")
	require.NoError(t, err)
	c2, err := pool.Acquire(context.Background(), "python")
	require.NoError(t, err)
	hungInfo := mgr.latestInfo()

	start := time.Now()
	pool.ShutdownAll()
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*time.Second, "one hung server must not stretch shutdown past the global deadline")
	assert.Equal(t, StateClosed, c1.State())
	assert.Equal(t, StateClosed, c2.State())
	assert.Equal(t, 1, graceful.requestCount(types.MethodShutdown))
	// The hung server goes through the manager's SIGTERM/SIGKILL
	// escalation, not a direct kill.
	assert.True(t, mgr.forceStopped(hungInfo))

	_, err = pool.Acquire(context.Background(), "rust")
	require.Error(t, err)
	var connErr *errors.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, errors.ReasonClosing, connErr.Reason)
}

func TestUpstreamKeySeparatesNumericAndStringIDs(t *testing.T) {
	assert.NotEqual(t, upstreamKey(float64(1)), upstreamKey("1"))
	assert.NotEqual(t, upstreamKey(int64(1)), upstreamKey("1"))
	assert.Equal(t, upstreamKey(float64(41)), upstreamKey(float64(41)))
	assert.Equal(t, upstreamKey("editor-41"), upstreamKey("editor-41"))
}

func TestBridgeSelectionRangeMatchesInputPositions(t *testing.T) {
	srv := newFakeServer()
	base := srv.onRequest
	srv.onRequest = func(s *fakeServer, method string, id interface{}, params json.RawMessage) {
		if method == types.MethodTextDocumentSelectionRange {
			// One entry for the first position only; the bridge pads the rest.
			s.respond(id, []interface{}{
				map[string]interface{}{
					"range": map[string]interface{}{
						"start": map[string]interface{}{"line": 0, "character": 0},
						"end":   map[string]interface{}{"line": 0, "character": 5},
					},
				},
			})
			return
		}
		base(s, method, id, params)
	}
	pool, _ := newTestPool(map[string]*fakeServer{"rust": srv}, testTimeouts())
	defer pool.ShutdownAll()

	raw, err := pool.Bridge(context.Background(), Request{
		Method:  types.MethodTextDocumentSelectionRange,
		HostURI: "file:///tmp/doc.md",
		Region:  rustRegion(0),
		Content: "fn a() {}",
		Positions: []types.Position{
			{Line: 10, Character: 0},
			{Line: 11, Character: 2},
		},
	})
	require.NoError(t, err)

	parsed := gjson.ParseBytes(raw)
	require.True(t, parsed.IsArray())
	entries := parsed.Array()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(10), entries[0].Get("range.start.line").Int())
	// The padded entry collapses to an empty range at its input position.
	assert.Equal(t, int64(11), entries[1].Get("range.start.line").Int())
	assert.Equal(t, int64(2), entries[1].Get("range.start.character").Int())
	assert.Equal(t, entries[1].Get("range.start").Raw, entries[1].Get("range.end").Raw)
}
