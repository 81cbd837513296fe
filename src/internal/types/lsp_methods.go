package types

// LSP protocol lifecycle methods
const (
	// MethodInitialize is sent as the first request from client to server
	MethodInitialize = "initialize"
	// MethodInitialized is sent from client to server after the initialize response
	MethodInitialized = "initialized"
	// MethodShutdown is sent from client to server to shutdown the server
	MethodShutdown = "shutdown"
	// MethodExit is sent from client to server to exit the server process
	MethodExit = "exit"
	// MethodCancelRequest asks the server to cancel a previously sent request
	MethodCancelRequest = "$/cancelRequest"
	// MethodProgress carries server work-done progress notifications
	MethodProgress = "$/progress"
)

// LSP document synchronization methods
const (
	MethodTextDocumentDidOpen   = "textDocument/didOpen"
	MethodTextDocumentDidChange = "textDocument/didChange"
	MethodTextDocumentDidClose  = "textDocument/didClose"
)

// Bridged language feature methods
const (
	MethodTextDocumentCompletion        = "textDocument/completion"
	MethodTextDocumentHover             = "textDocument/hover"
	MethodTextDocumentSignatureHelp     = "textDocument/signatureHelp"
	MethodTextDocumentDefinition        = "textDocument/definition"
	MethodTextDocumentTypeDefinition    = "textDocument/typeDefinition"
	MethodTextDocumentImplementation    = "textDocument/implementation"
	MethodTextDocumentDeclaration       = "textDocument/declaration"
	MethodTextDocumentReferences        = "textDocument/references"
	MethodTextDocumentRename            = "textDocument/rename"
	MethodTextDocumentDocumentHighlight = "textDocument/documentHighlight"
	MethodTextDocumentDocumentSymbol    = "textDocument/documentSymbol"
	MethodTextDocumentInlayHint         = "textDocument/inlayHint"
	MethodTextDocumentDocumentLink      = "textDocument/documentLink"
	MethodTextDocumentFoldingRange      = "textDocument/foldingRange"
	MethodTextDocumentSelectionRange    = "textDocument/selectionRange"
	MethodTextDocumentMoniker           = "textDocument/moniker"
	MethodTextDocumentDocumentColor     = "textDocument/documentColor"
	MethodTextDocumentColorPresentation = "textDocument/colorPresentation"
	MethodCallHierarchyPrepare          = "textDocument/prepareCallHierarchy"
	MethodTypeHierarchyPrepare          = "textDocument/prepareTypeHierarchy"
)

// RequestKind classifies a bridged request for superseding purposes.
// Incremental kinds fire on every keystroke or cursor move, so a newer
// request of the same kind makes the older one stale.
type RequestKind int

const (
	KindOneShot RequestKind = iota
	KindCompletion
	KindHover
	KindSignatureHelp
)

// String returns the kind name for logging
func (k RequestKind) String() string {
	switch k {
	case KindCompletion:
		return "completion"
	case KindHover:
		return "hover"
	case KindSignatureHelp:
		return "signatureHelp"
	default:
		return "oneShot"
	}
}

// Incremental reports whether requests of this kind supersede older
// same-kind requests on the same connection.
func (k RequestKind) Incremental() bool {
	return k != KindOneShot
}

// KindForMethod maps an LSP method to its request kind.
func KindForMethod(method string) RequestKind {
	switch method {
	case MethodTextDocumentCompletion:
		return KindCompletion
	case MethodTextDocumentHover:
		return KindHover
	case MethodTextDocumentSignatureHelp:
		return KindSignatureHelp
	default:
		return KindOneShot
	}
}
