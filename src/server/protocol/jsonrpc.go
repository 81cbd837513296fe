// Package protocol implements JSON-RPC 2.0 message framing for LSP stdio
// transports: Content-Length delimited messages, exact-length body reads,
// and routing of inbound traffic to a MessageHandler.
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"lsp-bridge/src/internal/common"
	"lsp-bridge/src/internal/constants"
)

// JSONRPCVersion is the fixed jsonrpc field value
const JSONRPCVersion = "2.0"

// JSONRPCMessage represents a JSON-RPC 2.0 message
type JSONRPCMessage struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Method  string      `json:"method,omitempty"`
	Params  interface{} `json:"params,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error object
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// inboundMessage keeps params and result raw so responses can be relayed
// upward byte-for-byte.
type inboundMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// MessageHandler receives routed inbound messages. Implementations are
// called from the connection's single reader goroutine.
type MessageHandler interface {
	HandleRequest(method string, id interface{}, params json.RawMessage) error
	HandleResponse(id interface{}, result json.RawMessage, rpcErr *RPCError) error
	HandleNotification(method string, params json.RawMessage) error
}

// WriteMessage sends a JSON-RPC message with a Content-Length header.
// The length is the UTF-8 byte count of the body, not a character count.
func WriteMessage(writer io.Writer, msg JSONRPCMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	content := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(data), data)
	_, err = writer.Write([]byte(content))
	return err
}

// ReadMessages reads framed messages from reader until EOF, a read error,
// or stopCh closes, routing each parsed message through handler. A single
// stdout stream carries many consecutive messages, so bodies are consumed
// with exact-length reads, never read-until-EOF.
func ReadMessages(reader io.Reader, handler MessageHandler, stopCh <-chan struct{}) error {
	bufReader := bufio.NewReaderSize(reader, constants.ResponseBufferSize)

	for {
		select {
		case <-stopCh:
			return nil
		default:
		}

		var contentLength int
		for {
			line, err := bufReader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}

			line = strings.TrimSpace(line)
			if line == "" {
				break
			}

			if strings.HasPrefix(line, "Content-Length:") {
				lengthStr := strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:"))
				length, err := strconv.Atoi(lengthStr)
				if err != nil {
					common.BridgeLogger.Debug("Failed to parse Content-Length: %s", lengthStr)
					continue
				}
				contentLength = length
			}
		}

		if contentLength <= 0 {
			continue
		}

		body := make([]byte, contentLength)
		if _, err := io.ReadFull(bufReader, body); err != nil {
			return err
		}

		if err := HandleMessage(body, handler); err != nil {
			common.BridgeLogger.Error("Error handling message: %v", err)
		}
	}
}

// HandleMessage parses one JSON-RPC message and routes it: method with id
// is a server-initiated request, method without id a notification, id
// without method a response to one of ours.
func HandleMessage(data []byte, handler MessageHandler) error {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("malformed JSON-RPC message: %w", err)
	}

	switch {
	case msg.Method != "" && msg.ID != nil:
		return handler.HandleRequest(msg.Method, msg.ID, msg.Params)
	case msg.Method != "":
		return handler.HandleNotification(msg.Method, msg.Params)
	case msg.ID != nil:
		return handler.HandleResponse(msg.ID, msg.Result, msg.Error)
	default:
		return fmt.Errorf("malformed JSON-RPC message: no id and no method")
	}
}

// CreateMessage creates a JSON-RPC request message
func CreateMessage(method string, id interface{}, params interface{}) JSONRPCMessage {
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// CreateNotification creates a JSON-RPC notification (no id)
func CreateNotification(method string, params interface{}) JSONRPCMessage {
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  params,
	}
}

// CreateResponse creates a JSON-RPC response message
func CreateResponse(id interface{}, result interface{}, err *RPCError) JSONRPCMessage {
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
		Error:   err,
	}
}

// NewRPCError creates an RPCError with the given code, message and data
func NewRPCError(code int, message string, data interface{}) *RPCError {
	return &RPCError{Code: code, Message: message, Data: data}
}

// IDToInt64 normalizes a JSON-RPC id to int64. JSON numbers arrive as
// float64 through encoding/json; string ids used by some servers are
// parsed when they hold an integer.
func IDToInt64(id interface{}) (int64, bool) {
	switch v := id.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
