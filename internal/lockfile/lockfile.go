// Package lockfile implements the single-instance guard (C8, spec §4.8):
// an exclusively-locked PID file that prevents a second daemon instance
// from starting against the same pool/config, with stale-holder
// detection and a --force override. Grounded on the teacher's
// FileRegistry (internal/infra/registry.go): the flock-guarded open
// is kept and the PID is rewritten in place (truncate, write, fsync),
// generalized from a two-daemon
// watcher/guardian heartbeat record down to the single PID spec §4.8
// requires.
package lockfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/multierr"

	"github.com/eliteGoblin/egd/internal/domain"
	"github.com/eliteGoblin/egd/internal/egderr"
)

// FileLock implements domain.LockFile using an exclusively flocked PID file.
type FileLock struct {
	path           string
	processManager domain.ProcessManager
	fd             *os.File
}

// New creates a lock file at path, checked against pm for holder liveness.
func New(path string, pm domain.ProcessManager) *FileLock {
	return &FileLock{path: path, processManager: pm}
}

var _ domain.LockFile = (*FileLock)(nil)

// Acquire takes ownership of the lock (spec §4.8):
//  1. open (or create) the lock file and take an exclusive flock;
//  2. if the file already records a live PID and force is false, fail
//     with egderr.ErrLockConflict;
//  3. otherwise (no recorded PID, a dead PID, or force==true) write the
//     current PID and keep the fd (and its flock) open for the
//     lifetime of the process.
func (l *FileLock) Acquire(force bool) error {
	fd, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return egderr.FatalErr("lockfile", egderr.ErrStorageDenied, "open lock file", err)
	}

	if err := syscall.Flock(int(fd.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		fd.Close()
		return egderr.FatalErr("lockfile", egderr.ErrLockConflict, "lock file is held by another process", err)
	}

	existing, readErr := readPID(fd)
	if readErr == nil && existing > 0 && !force {
		if l.processManager.IsRunning(existing) {
			syscall.Flock(int(fd.Fd()), syscall.LOCK_UN)
			fd.Close()
			return egderr.FatalErr("lockfile", egderr.ErrLockConflict,
				fmt.Sprintf("daemon already running with pid %d", existing), nil)
		}
	}

	pid := l.processManager.GetCurrentPID()
	if err := writePID(fd, pid); err != nil {
		syscall.Flock(int(fd.Fd()), syscall.LOCK_UN)
		fd.Close()
		return egderr.FatalErr("lockfile", egderr.ErrStorageDenied, "write pid to lock file", err)
	}

	l.fd = fd
	return nil
}

// Release unlocks and removes the lock file. Safe to call on an
// unacquired lock (no-op). Both teardown steps are attempted even if the
// first fails, and their errors are combined with multierr so neither
// failure is silently swallowed by the other.
func (l *FileLock) Release() error {
	if l.fd == nil {
		return nil
	}
	defer l.fd.Close()

	var err error
	if unlockErr := syscall.Flock(int(l.fd.Fd()), syscall.LOCK_UN); unlockErr != nil {
		err = multierr.Append(err, egderr.Perm("lockfile", egderr.ErrStorageDenied, "unlock lock file", unlockErr))
	}
	if removeErr := os.Remove(l.path); removeErr != nil && !os.IsNotExist(removeErr) {
		err = multierr.Append(err, egderr.Perm("lockfile", egderr.ErrStorageDenied, "remove lock file", removeErr))
	}
	return err
}

// Path returns the lock file's on-disk location.
func (l *FileLock) Path() string {
	return l.path
}

func readPID(fd *os.File) (int, error) {
	if _, err := fd.Seek(0, 0); err != nil {
		return 0, err
	}
	buf := make([]byte, 32)
	n, err := fd.Read(buf)
	if err != nil && n == 0 {
		return 0, err
	}
	text := strings.TrimSpace(string(buf[:n]))
	if text == "" {
		return 0, fmt.Errorf("empty lock file")
	}
	return strconv.Atoi(text)
}

func writePID(fd *os.File, pid int) error {
	if err := fd.Truncate(0); err != nil {
		return err
	}
	if _, err := fd.Seek(0, 0); err != nil {
		return err
	}
	if _, err := fd.WriteString(strconv.Itoa(pid)); err != nil {
		return err
	}
	return fd.Sync()
}
