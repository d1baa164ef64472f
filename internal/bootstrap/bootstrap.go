// Package bootstrap re-execs the daemon detached from the invoking
// shell, for `egd start --detach`. Grounded on the teacher's
// internal/daemon/bootstrap.go StartDaemon: self-exec plus Setsid
// detach, stripped of the obfuscated-name generation and the
// watcher/guardian pair spawn (spec.md's single-instance invariant has
// no analogue for a second cooperating daemon).
package bootstrap

import (
	"os"
	"os/exec"
	"syscall"
)

// Detach re-execs the current binary with runArgs (typically
// ["start", "--foreground"]) in a new session, so the foreground caller
// can return immediately while the daemon keeps running independently.
func Detach(runArgs []string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.Command(executable, runArgs...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // detach from the controlling terminal
	}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	return cmd.Start()
}
