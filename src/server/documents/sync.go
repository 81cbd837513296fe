package documents

import (
	"context"
	"sync"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"lsp-bridge/src/internal/common"
	"lsp-bridge/src/internal/types"
)

// Notifier sends LSP notifications to one downstream server. Implemented
// by bridge connections.
type Notifier interface {
	SendNotification(ctx context.Context, method string, params interface{}) error
}

type docState struct {
	notifier Notifier
	hostURI  string
	language string
	version  int32
	content  string
}

// SyncManager keeps each downstream server's view of its virtual
// documents current. didOpen is sent exactly once per virtual URI;
// re-opening an already open document makes servers ignore subsequent
// content, so changed content goes out as didChange with a bumped
// version, and identical content sends nothing.
type SyncManager struct {
	mu     sync.Mutex
	docs   map[string]*docState
	byHost map[string]map[string]struct{}
}

// NewSyncManager creates an empty synchronizer
func NewSyncManager() *SyncManager {
	return &SyncManager{
		docs:   make(map[string]*docState),
		byHost: make(map[string]map[string]struct{}),
	}
}

// EnsureOpen makes the region's virtual document exist and be current on
// the downstream server reached through notifier, returning its URI.
func (m *SyncManager) EnsureOpen(ctx context.Context, notifier Notifier, hostURI string, region types.InjectionRegion, content string) (string, error) {
	virtualURI := VirtualURI(hostURI, region)

	m.mu.Lock()
	defer m.mu.Unlock()

	state, open := m.docs[virtualURI]
	if !open {
		params := protocol.DidOpenTextDocumentParams{
			TextDocument: protocol.TextDocumentItem{
				URI:        uri.URI(virtualURI),
				LanguageID: protocol.LanguageIdentifier(region.Language),
				Version:    1,
				Text:       content,
			},
		}
		if err := notifier.SendNotification(ctx, types.MethodTextDocumentDidOpen, params); err != nil {
			return "", err
		}

		m.docs[virtualURI] = &docState{
			notifier: notifier,
			hostURI:  hostURI,
			language: region.Language,
			version:  1,
			content:  content,
		}
		if m.byHost[hostURI] == nil {
			m.byHost[hostURI] = make(map[string]struct{})
		}
		m.byHost[hostURI][virtualURI] = struct{}{}
		return virtualURI, nil
	}

	if state.content == content {
		return virtualURI, nil
	}

	newVersion := state.version + 1
	params := protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri.URI(virtualURI)},
			Version:                newVersion,
		},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{
			{Text: content},
		},
	}
	if err := state.notifier.SendNotification(ctx, types.MethodTextDocumentDidChange, params); err != nil {
		// The downstream view is now unknown; drop tracking so the next
		// access re-opens on the respawned connection.
		m.dropLocked(virtualURI)
		return "", err
	}

	state.version = newVersion
	state.content = content
	return virtualURI, nil
}

// CloseHost sends didClose for every virtual document the host document
// opened, on every connection involved, and discards their tracking
// entries. The connections themselves stay up: other host documents may
// still depend on them.
func (m *SyncManager) CloseHost(ctx context.Context, hostURI string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for virtualURI := range m.byHost[hostURI] {
		state := m.docs[virtualURI]
		if state == nil {
			continue
		}
		params := protocol.DidCloseTextDocumentParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: uri.URI(virtualURI)},
		}
		if err := state.notifier.SendNotification(ctx, types.MethodTextDocumentDidClose, params); err != nil {
			common.BridgeLogger.Warn("didClose for %s failed: %v", virtualURI, err)
		}
		delete(m.docs, virtualURI)
	}
	delete(m.byHost, hostURI)
}

// ForgetConnection drops tracking for every virtual document opened on a
// connection, without sending didClose. Used when the connection failed
// or respawned: the new process has no documents open.
func (m *SyncManager) ForgetConnection(notifier Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for virtualURI, state := range m.docs {
		if state.notifier == notifier {
			m.dropLocked(virtualURI)
		}
	}
}

// IsOpen reports whether a virtual URI is currently tracked as open
func (m *SyncManager) IsOpen(virtualURI string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[virtualURI]
	return ok
}

// Version returns the current LSP version of a virtual document, or 0 if
// it is not open.
func (m *SyncManager) Version(virtualURI string) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.docs[virtualURI]; ok {
		return state.version
	}
	return 0
}

func (m *SyncManager) dropLocked(virtualURI string) {
	state := m.docs[virtualURI]
	if state != nil {
		if hosted := m.byHost[state.hostURI]; hosted != nil {
			delete(hosted, virtualURI)
			if len(hosted) == 0 {
				delete(m.byHost, state.hostURI)
			}
		}
	}
	delete(m.docs, virtualURI)
}
