package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.lsp.dev/uri"

	"lsp-bridge/src/internal/common"
	"lsp-bridge/src/internal/errors"
	"lsp-bridge/src/internal/types"
	"lsp-bridge/src/server/protocol"
)

// handshake runs the LSP initialize exchange: initialize request (id 1),
// response validation, then the initialized notification. Bounded by the
// Init timeout tier.
func (c *Connection) handshake(ctx context.Context) error {
	params := c.initializeParams()

	result, err := c.rawRequest(ctx, initializeRequestID, types.MethodInitialize, params, c.timeouts.Init)
	if err != nil {
		return err
	}

	var initResult struct {
		Capabilities json.RawMessage `json:"capabilities"`
	}
	if err := json.Unmarshal(result, &initResult); err != nil || len(initResult.Capabilities) == 0 {
		return errors.NewConnectionError(c.language, errors.ReasonTransport,
			fmt.Errorf("initialize response missing capabilities"))
	}

	if err := c.writeMessage(protocol.CreateNotification(types.MethodInitialized, map[string]interface{}{})); err != nil {
		return errors.NewConnectionError(c.language, errors.ReasonTransport, err)
	}

	common.BridgeLogger.Debug("Handshake complete for %s", c.language)
	return nil
}

func (c *Connection) initializeParams() map[string]interface{} {
	rootPath := c.cfg.WorkingDir
	if rootPath == "" {
		if wd, err := os.Getwd(); err == nil {
			rootPath = wd
		}
	}

	params := map[string]interface{}{
		"processId": os.Getpid(),
		"clientInfo": map[string]interface{}{
			"name":    "lsp-bridge",
			"version": "1.0.0",
		},
		"capabilities": map[string]interface{}{
			"textDocument": map[string]interface{}{
				"synchronization": map[string]interface{}{
					"didSave":             false,
					"dynamicRegistration": false,
				},
				"completion": map[string]interface{}{
					"completionItem": map[string]interface{}{
						"snippetSupport":             false,
						"documentationFormat":        []string{"markdown", "plaintext"},
						"additionalTextEditsSupport": true,
					},
				},
				"hover": map[string]interface{}{
					"contentFormat": []string{"markdown", "plaintext"},
				},
				"signatureHelp":     map[string]interface{}{},
				"definition":        map[string]interface{}{"linkSupport": true},
				"typeDefinition":    map[string]interface{}{"linkSupport": true},
				"implementation":    map[string]interface{}{"linkSupport": true},
				"declaration":       map[string]interface{}{"linkSupport": true},
				"references":        map[string]interface{}{},
				"documentHighlight": map[string]interface{}{},
				"documentSymbol": map[string]interface{}{
					"hierarchicalDocumentSymbolSupport": true,
				},
				"rename":         map[string]interface{}{},
				"inlayHint":      map[string]interface{}{},
				"documentLink":   map[string]interface{}{},
				"foldingRange":   map[string]interface{}{},
				"selectionRange": map[string]interface{}{},
				"colorProvider":  map[string]interface{}{},
				"callHierarchy":  map[string]interface{}{},
				"typeHierarchy":  map[string]interface{}{},
				"moniker":        map[string]interface{}{},
			},
			"workspace": map[string]interface{}{
				"workspaceEdit": map[string]interface{}{
					"documentChanges": true,
				},
			},
		},
	}

	if rootPath != "" {
		rootURI := string(uri.File(rootPath))
		params["rootUri"] = rootURI
		params["workspaceFolders"] = []interface{}{
			map[string]interface{}{"uri": rootURI, "name": "workspace"},
		}
	}

	if c.cfg.InitializationOptions != nil {
		params["initializationOptions"] = c.cfg.InitializationOptions
	}

	return params
}

// rawRequest registers a pending entry outside the Ready-state gate. Used
// for the initialize and shutdown requests, which run in Initializing and
// Closing respectively.
func (c *Connection) rawRequest(ctx context.Context, id int64, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	pr := &pendingRequest{
		id:     id,
		method: method,
		kind:   types.KindOneShot,
		respCh: make(chan *response, 1),
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil, errors.NewConnectionError(c.language, errors.ReasonTransport, nil)
	}
	c.pending[id] = pr
	c.mu.Unlock()

	if err := c.writeMessage(protocol.CreateMessage(method, id, params)); err != nil {
		c.removePending(id)
		return nil, errors.NewConnectionError(c.language, errors.ReasonTransport, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-pr.respCh:
		if resp.err != nil {
			return nil, resp.err
		}
		if resp.rpcErr != nil {
			return nil, errors.NewDownstreamError(resp.rpcErr.Code, resp.rpcErr.Message, resp.rpcErr.Data)
		}
		return resp.result, nil
	case <-timer.C:
		c.removePending(id)
		return nil, errors.NewTimeoutError(method, c.language, "")
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	}
}
