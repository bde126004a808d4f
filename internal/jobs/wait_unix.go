//go:build unix

package jobs

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// Waiter checks on and signals processes. Implementations must never block
// in Poll.
type Waiter interface {
	// Poll reports whether pid has terminated. A terminated pid is reaped
	// by the call, so callers must not poll it again.
	Poll(pid int) (exited bool, status int, err error)

	// Signal delivers sig to pid; a negative pid addresses a process group.
	Signal(pid int, sig syscall.Signal) error
}

type unixWaiter struct{}

// SystemWaiter polls real child processes with wait4(WNOHANG).
func SystemWaiter() Waiter {
	return unixWaiter{}
}

func (unixWaiter) Poll(pid int) (bool, int, error) {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, 0, err
		}
		if wpid == 0 {
			return false, 0, nil
		}
		return true, exitStatus(ws), nil
	}
}

func (unixWaiter) Signal(pid int, sig syscall.Signal) error {
	err := unix.Kill(pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// exitStatus maps a wait status to a shell-style status: the exit code, or
// 128+signal for a process killed by a signal.
func exitStatus(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return -1
	}
}
