// Package orchestrator sequences a run: ensure the local monitoring stack
// is up, launch the service child with telemetry export configured, wait
// for a signal or the child's own exit, then tear everything down in order.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/otelrun/pkg/events"
	"github.com/go-go-golems/otelrun/pkg/launch"
	"github.com/go-go-golems/otelrun/pkg/probe"
	"github.com/go-go-golems/otelrun/pkg/state"
)

// State is the orchestrator's lifecycle position. Transitions are linear;
// there is no way back.
type State string

const (
	StateIdle               State = "idle"
	StateEnsuringMonitoring State = "ensuring-monitoring"
	StateLaunching          State = "launching"
	StateRunning            State = "running"
	StateShuttingDown       State = "shutting-down"
	StateStopped            State = "stopped"
)

// StackEnsurer is the injected stack collaborator: bring the monitoring
// backend up (reporting ownership) and tear it down.
type StackEnsurer interface {
	Ensure(ctx context.Context) (started bool, err error)
	Stop(ctx context.Context) error
}

// ChildExitError reports a service child that exited on its own with a
// non-zero status.
type ChildExitError struct {
	Code   int
	Signal string
}

func (e *ChildExitError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("service exited on signal %s", e.Signal)
	}
	return fmt.Sprintf("service exited with code %d", e.Code)
}

type Options struct {
	Endpoint string
	// HasToken is recorded in the state file; the token itself only ever
	// lives in the launcher's env construction.
	HasToken bool
	WorkDir  string
	Spec     launch.Spec
	Grace    time.Duration

	// Stack metadata recorded for status/down.
	DashboardURL  string
	CollectorAddr string
}

type Orchestrator struct {
	opts     Options
	stack    StackEnsurer
	launcher *launch.Launcher
	pub      message.Publisher

	st           State
	handle       *launch.Handle
	stackStarted bool
}

// New builds an orchestrator. stack may be nil when the endpoint is not
// local; pub may be nil to drop events.
func New(opts Options, stack StackEnsurer, launcher *launch.Launcher, pub message.Publisher) *Orchestrator {
	if opts.Grace <= 0 {
		opts.Grace = 5 * time.Second
	}
	return &Orchestrator{
		opts:     opts,
		stack:    stack,
		launcher: launcher,
		pub:      pub,
		st:       StateIdle,
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State { return o.st }

// StackStarted reports whether this run issued the stack start command.
func (o *Orchestrator) StackStarted() bool { return o.stackStarted }

// Handle exposes the running child. Valid after a successful Launch.
func (o *Orchestrator) Handle() *launch.Handle { return o.handle }

// Run drives the whole lifecycle. It blocks until the child exits or ctx
// is cancelled (the signal path), then cleans up. A nil return means a
// clean shutdown; probe exhaustion, launch failure and non-zero child exit
// all surface as errors.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Launch(ctx); err != nil {
		return err
	}
	return o.Wait(ctx)
}

// Launch performs the front half of the lifecycle: ensure the stack (for
// local endpoints), start the child, write the state file. Detached runs
// stop here and leave teardown to `down`.
func (o *Orchestrator) Launch(ctx context.Context) error {
	if o.launcher == nil {
		return errors.New("missing launcher")
	}
	if o.st != StateIdle {
		return errors.Errorf("launch from state %q", o.st)
	}

	local := launch.IsLocalEndpoint(o.opts.Endpoint)
	if local && o.stack != nil {
		o.transition(StateEnsuringMonitoring)
		started, err := o.stack.Ensure(ctx)
		o.stackStarted = started
		o.publish(events.TypeStackEnsure, events.StackEnsure{AlreadyRunning: !started && err == nil, Started: started})
		if err != nil {
			// The service is never launched past a dead stack. Stop a
			// stack we started and could not confirm.
			if started {
				o.stopStack()
			}
			if errors.Is(err, probe.ErrExhausted) {
				return errors.Wrap(err, "monitoring stack never became ready")
			}
			return err
		}
		o.publish(events.TypeProbeReady, events.ProbeReady{Target: o.opts.DashboardURL})
	} else {
		log.Info().Str("endpoint", o.opts.Endpoint).Msg("non-local endpoint, skipping monitoring stack")
	}

	o.transition(StateLaunching)
	handle, err := o.launcher.Start(ctx, o.opts.Spec)
	if err != nil {
		if o.stackStarted {
			o.stopStack()
		}
		return err
	}
	o.handle = handle
	o.publish(events.TypeServiceLaunch, events.ServiceLaunched{Name: handle.Name, PID: handle.PID})

	o.transition(StateRunning)
	if err := o.saveState(); err != nil {
		log.Warn().Err(err).Msg("state file not written; status/down from other terminals unavailable")
	}

	if o.opts.Spec.Health != nil && o.opts.Spec.Health.URL != "" {
		go o.reportHealth(ctx, o.opts.Spec.Health.URL)
	}
	return nil
}

// Wait blocks until the child exits on its own or ctx is cancelled, then
// runs the ordered teardown: child first, owned stack second.
func (o *Orchestrator) Wait(ctx context.Context) error {
	if o.st != StateRunning {
		return errors.Errorf("wait from state %q", o.st)
	}
	handle := o.handle

	var exit *launch.ExitResult
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case res := <-handle.Done:
		exit = &res
		o.publish(events.TypeServiceExited, events.ServiceExited{Name: handle.Name, Code: res.Code, Signal: res.Signal})
		log.Info().Int("code", res.Code).Str("signal", res.Signal).Msg("service exited on its own")
	}

	o.transition(StateShuttingDown)
	o.shutdown(exit)
	o.transition(StateStopped)

	if err := state.Remove(o.opts.WorkDir); err != nil {
		log.Warn().Err(err).Msg("remove state failed")
	}

	if exit != nil && (exit.Code != 0 || exit.Signal != "") {
		return &ChildExitError{Code: exit.Code, Signal: exit.Signal}
	}
	return nil
}

// shutdown signals the child first, then stops the stack this run started.
// Both halves are best-effort; an unkillable child never blocks stack
// teardown.
func (o *Orchestrator) shutdown(exit *launch.ExitResult) {
	terminateTimeout := false
	if exit == nil && o.handle != nil {
		if err := o.handle.Terminate(o.opts.Grace); err != nil {
			terminateTimeout = true
			log.Warn().Err(err).Msg("service did not stop in time")
		}
	}

	stackStopped := false
	if o.stackStarted {
		stackStopped = o.stopStack()
	}
	o.publish(events.TypeShutdownResult, events.ShutdownResult{StackStopped: stackStopped, TerminateTimeout: terminateTimeout})
}

func (o *Orchestrator) stopStack() bool {
	stopCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := o.stack.Stop(stopCtx); err != nil {
		log.Warn().Err(err).Msg("stop monitoring stack failed")
		return false
	}
	log.Info().Msg("monitoring stack stopped")
	return true
}

func (o *Orchestrator) transition(to State) {
	from := o.st
	o.st = to
	log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("state transition")
	o.publish(events.TypeStateChanged, events.StateChanged{From: string(from), To: string(to), At: time.Now()})
}

func (o *Orchestrator) publish(typ string, payload any) {
	if err := events.Publish(o.pub, events.TopicRunEvents, typ, payload); err != nil {
		log.Warn().Err(err).Str("type", typ).Msg("event publish failed")
	}
}

func (o *Orchestrator) saveState() error {
	h := o.handle
	run := &state.Run{
		WorkDir:   o.opts.WorkDir,
		Endpoint:  o.opts.Endpoint,
		HasToken:  o.opts.HasToken,
		CreatedAt: time.Now(),
		Service: state.ServiceRecord{
			Name:      h.Name,
			PID:       h.PID,
			Command:   o.opts.Spec.Command,
			Cwd:       o.opts.Spec.Cwd,
			Env:       state.SanitizeEnv(o.opts.Spec.Env),
			StdoutLog: h.StdoutLog,
			StderrLog: h.StderrLog,
			ExitInfo:  h.ExitInfoPath,
			StartedAt: h.StartedAt,
		},
		Stack: state.StackRecord{
			StartedByUs:   o.stackStarted,
			DashboardURL:  o.opts.DashboardURL,
			CollectorAddr: o.opts.CollectorAddr,
		},
	}
	return state.Save(o.opts.WorkDir, run)
}

// reportHealth is a non-gating post-launch check: it only logs, it never
// fails the run.
func (o *Orchestrator) reportHealth(ctx context.Context, url string) {
	p := probe.Prober{Attempts: 30, Delay: time.Second, Timeout: time.Second}
	if err := p.Wait(ctx, url); err != nil {
		log.Warn().Str("url", url).Err(err).Msg("service health endpoint not reachable")
		return
	}
	log.Info().Str("url", url).Msg("service health endpoint reachable")
}
