// Package stack manages the local monitoring backend the service exports
// telemetry to. The backend itself is opaque: it is started and stopped
// through a Controller, and only its network surface (dashboard, collector)
// is observed.
package stack

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/otelrun/pkg/probe"
)

// Controller starts and stops a monitoring backend.
type Controller interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// CommandController runs configured argv vectors, e.g. docker compose up/down.
type CommandController struct {
	ControllerName string
	StartCommand   []string
	StopCommand    []string
	Dir            string
}

func (c *CommandController) Name() string {
	if c.ControllerName != "" {
		return c.ControllerName
	}
	return "command"
}

func (c *CommandController) Start(ctx context.Context) error {
	return c.run(ctx, c.StartCommand, "start")
}

func (c *CommandController) Stop(ctx context.Context) error {
	return c.run(ctx, c.StopCommand, "stop")
}

func (c *CommandController) run(ctx context.Context, argv []string, action string) error {
	if len(argv) == 0 {
		return errors.Errorf("stack %s: no %s command configured", c.Name(), action)
	}
	// #nosec G204 -- command comes from the user's config file.
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	log.Info().Str("stack", c.Name()).Strs("command", argv).Str("action", action).Msg("running stack command")
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "stack %s command", action)
	}
	return nil
}

// Supervisor ensures the monitoring backend is serving before the wrapped
// service is launched. Ownership is explicit: Ensure reports whether THIS
// call issued the start command, and only an owned stack should be stopped
// on the way down.
type Supervisor struct {
	Controller    Controller
	Prober        probe.Prober
	DashboardURL  string
	CollectorAddr string
}

// Ensure is idempotent: a dashboard that already answers means some other
// run (or the user) owns the stack, and no start command is issued.
func (s *Supervisor) Ensure(ctx context.Context) (started bool, err error) {
	if s.Controller == nil {
		return false, errors.New("missing stack controller")
	}
	if s.DashboardURL == "" {
		return false, errors.New("missing dashboard URL")
	}

	if probe.Check(ctx, s.DashboardURL, s.Prober.Timeout) {
		log.Info().Str("dashboard", s.DashboardURL).Msg("monitoring stack already running")
		return false, nil
	}

	log.Info().Str("stack", s.Controller.Name()).Msg("starting monitoring stack")
	if err := s.Controller.Start(ctx); err != nil {
		return false, err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.Prober.Wait(egCtx, s.DashboardURL)
	})
	if s.CollectorAddr != "" {
		eg.Go(func() error {
			return s.Prober.WaitTCP(egCtx, s.CollectorAddr)
		})
	}
	if err := eg.Wait(); err != nil {
		return true, err
	}

	log.Info().Str("dashboard", s.DashboardURL).Str("collector", s.CollectorAddr).Msg("monitoring stack ready")
	return true, nil
}

// Stop tears down the stack. Callers gate this on the ownership bit that
// Ensure returned.
func (s *Supervisor) Stop(ctx context.Context) error {
	if s.Controller == nil {
		return errors.New("missing stack controller")
	}
	return s.Controller.Stop(ctx)
}

// StopTimeout bounds Stop with its own deadline, for use from cleanup paths
// whose parent context is already cancelled.
func (s *Supervisor) StopTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Stop(ctx)
}
