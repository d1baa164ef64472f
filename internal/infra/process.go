// Package infra implements infrastructure concerns: process liveness,
// filesystem helpers, and random name generation shared across the
// lock file, pool persistence path, and the script source's sandbox.
package infra

import (
	"os"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/egd/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil for
// cross-platform liveness checks.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// IsRunning checks if a PID exists and is running. Used by the lock file
// to decide whether a recorded holder is stale (spec §4.8).
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := p.IsRunning()
	return err == nil && running
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

// KillGroup sends SIGKILL to an entire process group, used to enforce the
// script source's wall-clock timeout (spec §4.5, §9) against a script and
// any children it spawned.
func (pm *ProcessManagerImpl) KillGroup(pgid int) error {
	return syscall.Kill(-pgid, syscall.SIGKILL)
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
