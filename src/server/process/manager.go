// Package process owns downstream language-server processes: spawning
// with stdio pipes, exit monitoring, and SIGTERM/SIGKILL escalation.
package process

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"lsp-bridge/src/internal/common"
	"lsp-bridge/src/internal/constants"
	"lsp-bridge/src/internal/types"
)

// ProcessInfo holds the handles of a running downstream server process
type ProcessInfo struct {
	Cmd      *exec.Cmd
	Stdin    io.WriteCloser
	Stdout   io.ReadCloser
	Stderr   io.ReadCloser
	Language string

	// StopCh signals reader goroutines to stop. Closed on explicit stop
	// and on process exit.
	StopCh chan struct{}

	doneCh   chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once
}

// Done is closed once the process has exited and been reaped.
func (info *ProcessInfo) Done() <-chan struct{} {
	return info.doneCh
}

// Exited reports whether the process has already been reaped
func (info *ProcessInfo) Exited() bool {
	select {
	case <-info.doneCh:
		return true
	default:
		return false
	}
}

func (info *ProcessInfo) signalStop() {
	info.stopOnce.Do(func() { close(info.StopCh) })
}

func (info *ProcessInfo) markDone() {
	info.doneOnce.Do(func() { close(info.doneCh) })
}

// NewPipeProcessInfo assembles a ProcessInfo around caller-managed pipes
// instead of a spawned command. Used when the downstream runs over a
// transport the caller owns, and by tests.
func NewPipeProcessInfo(language string, stdin io.WriteCloser, stdout, stderr io.ReadCloser) *ProcessInfo {
	return &ProcessInfo{
		Language: language,
		Stdin:    stdin,
		Stdout:   stdout,
		Stderr:   stderr,
		StopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// MarkExited records that the underlying process is gone, unblocking
// readers and Done waiters. For ProcessInfo values without a Cmd; spawned
// processes are reaped by MonitorProcess instead.
func (info *ProcessInfo) MarkExited() {
	info.markDone()
	info.signalStop()
}

// Manager spawns and terminates downstream server processes
type Manager interface {
	StartProcess(config types.ServerConfig, language string) (*ProcessInfo, error)
	MonitorProcess(info *ProcessInfo, onExit func(error))
	ForceStop(info *ProcessInfo)
	CleanupProcess(info *ProcessInfo)
}

// LSPProcessManager implements Manager for downstream LSP servers
type LSPProcessManager struct{}

// NewLSPProcessManager creates a new process manager
func NewLSPProcessManager() *LSPProcessManager {
	return &LSPProcessManager{}
}

// StartProcess spawns a downstream server with stdio pipes attached
func (pm *LSPProcessManager) StartProcess(config types.ServerConfig, language string) (*ProcessInfo, error) {
	cmd := exec.Command(config.Command, config.Args...)

	if config.WorkingDir != "" {
		cmd.Dir = config.WorkingDir
	} else if wd, err := os.Getwd(); err == nil {
		cmd.Dir = wd
	} else {
		cmd.Dir = os.TempDir()
	}

	info := &ProcessInfo{
		Cmd:      cmd,
		Language: language,
		StopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	var err error
	info.Stdin, err = cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	info.Stdout, err = cmd.StdoutPipe()
	if err != nil {
		info.Stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	info.Stderr, err = cmd.StderrPipe()
	if err != nil {
		info.Stdin.Close()
		info.Stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		pm.CleanupProcess(info)
		return nil, fmt.Errorf("failed to start %s server: %w", language, err)
	}

	common.ProcessLogger.Info("Started %s server process: PID %d", language, cmd.Process.Pid)
	return info, nil
}

// MonitorProcess blocks until the process exits, then signals readers and
// reports the exit to the caller. Must be the only caller of Cmd.Wait.
func (pm *LSPProcessManager) MonitorProcess(info *ProcessInfo, onExit func(error)) {
	if info == nil || info.Cmd == nil || info.Cmd.Process == nil {
		common.ProcessLogger.Error("MonitorProcess called with nil process info")
		if onExit != nil {
			onExit(fmt.Errorf("invalid process info"))
		}
		return
	}

	err := info.Cmd.Wait()

	if err != nil {
		common.ProcessLogger.Warn("%s server exited with error: %v", info.Language, err)
	} else {
		common.ProcessLogger.Info("%s server exited normally", info.Language)
	}

	info.markDone()
	info.signalStop()

	if onExit != nil {
		onExit(err)
	}
}

// ForceStop escalates: SIGTERM, a grace period, then SIGKILL. Returns
// once the process is gone or the kill has been delivered.
func (pm *LSPProcessManager) ForceStop(info *ProcessInfo) {
	if info == nil || info.Cmd == nil || info.Cmd.Process == nil {
		return
	}

	info.signalStop()

	if info.Exited() {
		pm.CleanupProcess(info)
		return
	}

	if err := terminateProcess(info.Cmd.Process); err != nil && !isExpectedKillError(err) {
		common.ProcessLogger.Debug("SIGTERM for %s server failed: %v", info.Language, err)
	}

	select {
	case <-info.Done():
	case <-time.After(constants.KillGracePeriod):
		common.ProcessLogger.Warn("%s server did not exit within %v after SIGTERM, sending SIGKILL", info.Language, constants.KillGracePeriod)
		if err := info.Cmd.Process.Kill(); err != nil && !isExpectedKillError(err) {
			common.ProcessLogger.Debug("SIGKILL for %s server failed: %v", info.Language, err)
		}
		<-info.Done()
	}

	pm.CleanupProcess(info)
}

// CleanupProcess closes all pipes
func (pm *LSPProcessManager) CleanupProcess(info *ProcessInfo) {
	if info == nil {
		return
	}

	if info.Stdin != nil {
		info.Stdin.Close()
		info.Stdin = nil
	}
	if info.Stdout != nil {
		info.Stdout.Close()
		info.Stdout = nil
	}
	if info.Stderr != nil {
		info.Stderr.Close()
		info.Stderr = nil
	}
}
