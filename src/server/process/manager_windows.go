//go:build windows
// +build windows

package process

import (
	"errors"
	"os"
)

// Windows has no SIGTERM; go straight to Kill.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}

func isExpectedKillError(err error) bool {
	return err != nil && errors.Is(err, os.ErrProcessDone)
}
