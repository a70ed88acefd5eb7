//go:build !windows

package supervisor

import (
	"errors"
	"syscall"

	"github.com/loykin/stackctl/internal/detector"
)

// Signaler delivers termination signals and checks PID liveness.
// Signaling a PID that already exited must be a no-op, not an error:
// a process can die between resolution and delivery.
type Signaler interface {
	// Terminate delivers the graceful signal (the process may intercept
	// it and exit cleanly).
	Terminate(pid int) error
	// Kill delivers the forced signal (the process cannot intercept it).
	Kill(pid int) error
	// Alive reports whether pid refers to a live process. A non-zero
	// startUnix additionally guards against PID reuse.
	Alive(pid int, startUnix int64) bool
}

type unixSignaler struct{}

// NewSignaler returns the OS-backed Signaler. Signals go to the process
// group when one exists (services are started with Setpgid), falling
// back to the single PID.
func NewSignaler() Signaler { return unixSignaler{} }

func (unixSignaler) Terminate(pid int) error { return signalGroup(pid, syscall.SIGTERM) }
func (unixSignaler) Kill(pid int) error      { return signalGroup(pid, syscall.SIGKILL) }

func (unixSignaler) Alive(pid int, startUnix int64) bool {
	ok, _ := detector.PIDDetector{PID: pid, StartUnix: startUnix}.Alive()
	return ok
}

func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	err := syscall.Kill(pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
