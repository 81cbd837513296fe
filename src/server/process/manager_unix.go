//go:build !windows
// +build !windows

package process

import (
	"errors"
	"os"
	"syscall"
)

func terminateProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

// isExpectedKillError reports whether a signal/kill error just means the
// process was already gone.
func isExpectedKillError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, os.ErrProcessDone) {
		return true
	}
	if errors.Is(err, syscall.ESRCH) || errors.Is(err, syscall.ECHILD) {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ESRCH || errno == syscall.ECHILD
	}

	return false
}
