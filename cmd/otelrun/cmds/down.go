package cmds

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/otelrun/pkg/config"
	"github.com/go-go-golems/otelrun/pkg/launch"
	"github.com/go-go-golems/otelrun/pkg/probe"
	"github.com/go-go-golems/otelrun/pkg/stack"
	"github.com/go-go-golems/otelrun/pkg/state"
)

func newDownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop the running service and the monitoring stack it started",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			grace, err := cmd.Flags().GetDuration("grace")
			if err != nil {
				return err
			}
			if err := stopFromState(cmd.Context(), opts, grace); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().Duration("grace", 0, "SIGTERM grace period before SIGKILL (default from config)")
	return cmd
}

// stopFromState tears down a run recorded in the state file: child first,
// then the stack if that run started it. Also used by `up --force`. A
// non-positive grace falls back to the configured shutdown grace.
func stopFromState(ctx context.Context, opts rootOptions, grace time.Duration) error {
	run, err := state.Load(opts.WorkDir)
	if err != nil {
		return err
	}
	cfg, err := config.LoadOptional(opts.Config)
	if err != nil {
		return err
	}
	if grace <= 0 {
		grace = cfg.Shutdown.Grace.Std()
	}

	if run.Service.PID > 0 && state.ProcessAlive(run.Service.PID) {
		h := launch.HandleFor(run.Service.Name, run.Service.PID)
		if err := h.Terminate(grace); err != nil {
			if !stderrors.Is(err, launch.ErrTerminateTimeout) {
				return err
			}
			log.Warn().Err(err).Msg("service did not stop; continuing teardown")
		}
	} else {
		log.Info().Str("service", run.Service.Name).Int("pid", run.Service.PID).Msg("service already gone")
	}

	if run.Stack.StartedByUs {
		// The surrounding context may already be cancelled by the signal
		// that triggered teardown; the stack stop gets its own deadline.
		sup := supervisorFromConfig(cfg, probe.New(0, 0, 0), opts.WorkDir)
		if err := sup.StopTimeout(60 * time.Second); err != nil {
			return err
		}
	} else {
		log.Info().Msg("monitoring stack not started by this run; leaving it alone")
	}

	return state.Remove(opts.WorkDir)
}

func supervisorFromConfig(cfg *config.File, prober probe.Prober, workDir string) *stack.Supervisor {
	return &stack.Supervisor{
		Controller: &stack.CommandController{
			ControllerName: "monitoring",
			StartCommand:   cfg.Stack.Start,
			StopCommand:    cfg.Stack.Stop,
			Dir:            workDir,
		},
		Prober:        prober,
		DashboardURL:  cfg.Stack.DashboardURL,
		CollectorAddr: cfg.CollectorAddr(),
	}
}
