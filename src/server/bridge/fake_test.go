package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"lsp-bridge/src/internal/types"
	"lsp-bridge/src/server/process"
	"lsp-bridge/src/server/protocol"
)

// serverMsg is one message a fake downstream server received
type serverMsg struct {
	method string
	id     interface{}
	params json.RawMessage
}

// fakeServer scripts a downstream language server over in-memory pipes.
// It implements protocol.MessageHandler for the server side of the wire:
// requests go through onRequest, notifications are recorded, and "exit"
// ends the fake process unless ignoreExit is set.
type fakeServer struct {
	mu            sync.Mutex
	writer        io.Writer
	info          *process.ProcessInfo
	requests      []serverMsg
	notifications []serverMsg

	onRequest  func(s *fakeServer, method string, id interface{}, params json.RawMessage)
	ignoreExit bool
}

// newFakeServer returns a server that completes the initialize and
// shutdown handshakes and stays silent on everything else.
func newFakeServer() *fakeServer {
	s := &fakeServer{}
	s.onRequest = func(srv *fakeServer, method string, id interface{}, params json.RawMessage) {
		switch method {
		case types.MethodInitialize:
			srv.respond(id, map[string]interface{}{
				"capabilities": map[string]interface{}{"hoverProvider": true},
			})
		case types.MethodShutdown:
			srv.respond(id, nil)
		}
	}
	return s
}

func (s *fakeServer) attach(writer io.Writer, info *process.ProcessInfo) {
	s.mu.Lock()
	s.writer = writer
	s.info = info
	s.mu.Unlock()
}

func (s *fakeServer) respond(id interface{}, result interface{}) {
	s.write(protocol.CreateResponse(id, result, nil))
}

func (s *fakeServer) respondError(id interface{}, rpcErr *protocol.RPCError) {
	s.write(protocol.CreateResponse(id, nil, rpcErr))
}

func (s *fakeServer) notify(method string, params interface{}) {
	s.write(protocol.CreateNotification(method, params))
}

func (s *fakeServer) write(msg protocol.JSONRPCMessage) {
	s.mu.Lock()
	writer := s.writer
	s.mu.Unlock()
	if writer != nil {
		_ = protocol.WriteMessage(writer, msg)
	}
}

func (s *fakeServer) HandleRequest(method string, id interface{}, params json.RawMessage) error {
	s.mu.Lock()
	s.requests = append(s.requests, serverMsg{method: method, id: id, params: params})
	handler := s.onRequest
	s.mu.Unlock()
	if handler != nil {
		handler(s, method, id, params)
	}
	return nil
}

func (s *fakeServer) HandleNotification(method string, params json.RawMessage) error {
	s.mu.Lock()
	s.notifications = append(s.notifications, serverMsg{method: method, params: params})
	info := s.info
	ignore := s.ignoreExit
	s.mu.Unlock()
	if method == types.MethodExit && !ignore && info != nil {
		info.MarkExited()
	}
	return nil
}

func (s *fakeServer) HandleResponse(id interface{}, result json.RawMessage, rpcErr *protocol.RPCError) error {
	return nil
}

func (s *fakeServer) requestCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.requests {
		if m.method == method {
			n++
		}
	}
	return n
}

func (s *fakeServer) notificationCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.notifications {
		if m.method == method {
			n++
		}
	}
	return n
}

func (s *fakeServer) lastRequest(method string) (serverMsg, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.requests) - 1; i >= 0; i-- {
		if s.requests[i].method == method {
			return s.requests[i], true
		}
	}
	return serverMsg{}, false
}

func (s *fakeServer) lastNotification(method string) (serverMsg, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if s.notifications[i].method == method {
			return s.notifications[i], true
		}
	}
	return serverMsg{}, false
}

// fakeManager implements process.Manager over io.Pipe pairs, wiring each
// spawned "process" to the scripted server for its language.
type fakeManager struct {
	mu         sync.Mutex
	servers    map[string]*fakeServer
	infos      []*process.ProcessInfo
	forceStops []*process.ProcessInfo
	startErr   error
}

func newFakeManager(servers map[string]*fakeServer) *fakeManager {
	return &fakeManager{servers: servers}
}

func (m *fakeManager) StartProcess(cfg types.ServerConfig, language string) (*process.ProcessInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return nil, m.startErr
	}
	srv := m.servers[language]
	if srv == nil {
		return nil, fmt.Errorf("no scripted server for language %q", language)
	}

	clientReads, serverWrites := io.Pipe()
	serverReads, clientWrites := io.Pipe()
	stderrReads, stderrWrites := io.Pipe()
	stderrWrites.Close()

	info := process.NewPipeProcessInfo(language, clientWrites, clientReads, stderrReads)
	srv.attach(serverWrites, info)

	go func() {
		_ = protocol.ReadMessages(serverReads, srv, info.StopCh)
	}()

	m.infos = append(m.infos, info)
	return info, nil
}

func (m *fakeManager) MonitorProcess(info *process.ProcessInfo, onExit func(error)) {
	<-info.Done()
	if onExit != nil {
		onExit(nil)
	}
}

func (m *fakeManager) ForceStop(info *process.ProcessInfo) {
	m.mu.Lock()
	m.forceStops = append(m.forceStops, info)
	m.mu.Unlock()
	info.MarkExited()
	m.CleanupProcess(info)
}

func (m *fakeManager) forceStopped(info *process.ProcessInfo) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stopped := range m.forceStops {
		if stopped == info {
			return true
		}
	}
	return false
}

func (m *fakeManager) CleanupProcess(info *process.ProcessInfo) {
	if info == nil {
		return
	}
	if info.Stdin != nil {
		info.Stdin.Close()
	}
	if info.Stdout != nil {
		info.Stdout.Close()
	}
	if info.Stderr != nil {
		info.Stderr.Close()
	}
}

func (m *fakeManager) latestInfo() *process.ProcessInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.infos) == 0 {
		return nil
	}
	return m.infos[len(m.infos)-1]
}

func testTimeouts() Timeouts {
	return Timeouts{
		Init:     2 * time.Second,
		Liveness: 60 * time.Second,
		Shutdown: 2 * time.Second,
		Request:  time.Second,
	}
}
