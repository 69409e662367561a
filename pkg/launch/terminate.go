package launch

import (
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/otelrun/pkg/state"
)

// ErrTerminateTimeout means the child outlived both the grace period and
// the follow-up kill window. Best-effort: callers log it and proceed with
// the rest of the teardown.
var ErrTerminateTimeout = errors.New("launch: child did not stop")

// HandleFor reattaches to a previously launched child by PID so a later
// process (down, --force) can terminate it. Only Terminate works on a
// reattached handle; Done never fires.
func HandleFor(name string, pid int) *Handle {
	return &Handle{Name: name, PID: pid}
}

// Terminate asks the child's process group to stop: SIGTERM, bounded wait,
// then SIGKILL escalation. It ignores surrounding context cancellation on
// purpose; see waitGone.
func (h *Handle) Terminate(grace time.Duration) error {
	if h == nil || h.PID <= 0 {
		return nil
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}

	pgid, pgidErr := syscall.Getpgid(h.PID)
	signalGroup := func(sig syscall.Signal) {
		if pgidErr == nil {
			_ = syscall.Kill(-pgid, sig)
		} else {
			_ = syscall.Kill(h.PID, sig)
		}
	}

	log.Info().Str("service", h.Name).Int("pid", h.PID).Dur("grace", grace).Msg("terminating service")
	signalGroup(syscall.SIGTERM)

	if h.waitGone(grace) {
		return nil
	}

	log.Warn().Str("service", h.Name).Int("pid", h.PID).Msg("grace period expired, killing")
	signalGroup(syscall.SIGKILL)

	if h.waitGone(2 * time.Second) {
		return nil
	}
	return errors.Wrapf(ErrTerminateTimeout, "service %q pid %d", h.Name, h.PID)
}

// waitGone polls deliberately without honouring context cancellation:
// teardown runs under an already-cancelled context and still has to see
// the child out. The wait is bounded by timeout.
func (h *Handle) waitGone(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()

	for {
		if !state.ProcessAlive(h.PID) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		<-t.C
	}
}
