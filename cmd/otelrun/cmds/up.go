package cmds

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/otelrun/pkg/config"
	"github.com/go-go-golems/otelrun/pkg/events"
	"github.com/go-go-golems/otelrun/pkg/launch"
	"github.com/go-go-golems/otelrun/pkg/orchestrator"
	"github.com/go-go-golems/otelrun/pkg/state"
)

func newUpCmd(version string) *cobra.Command {
	var force bool
	var detach bool
	var envFile string

	cmd := &cobra.Command{
		Use:   "up [endpoint-url] [access-token]",
		Short: "Ensure the monitoring stack is up, then launch the service with OTLP export configured",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}

			if state.Exists(opts.WorkDir) {
				if !force {
					return errors.New("state exists; run otelrun down first or use --force")
				}
				log.Info().Msg("existing state found; stopping first (--force)")
				forceGrace, err := cmd.Flags().GetDuration("grace")
				if err != nil {
					return err
				}
				if err := stopFromState(cmd.Context(), opts, forceGrace); err != nil {
					return err
				}
			}

			cfg, err := config.LoadOptional(opts.Config)
			if err != nil {
				return err
			}

			endpoint := config.DefaultEndpoint
			if len(args) > 0 && args[0] != "" {
				endpoint = args[0]
			}
			token := ""
			if len(args) > 1 {
				token = args[1]
			}

			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return errors.Wrapf(err, "load env file %s", envFile)
				}
				log.Info().Str("file", envFile).Msg("loaded env file")
			}

			pub := events.LogPublisher{}

			prober, err := proberFromFlags(cmd.Flags(), cfg)
			if err != nil {
				return err
			}
			prober.OnAttempt = func(target string, attempt, max int, reachable bool) {
				_ = events.Publish(pub, events.TopicRunEvents, events.TypeProbeAttempt, events.ProbeAttempt{
					Target:    target,
					Attempt:   attempt,
					Max:       max,
					Reachable: reachable,
				})
			}

			grace, err := graceFromFlags(cmd.Flags(), cfg)
			if err != nil {
				return err
			}

			var ensurer orchestrator.StackEnsurer
			if launch.IsLocalEndpoint(endpoint) {
				ensurer = supervisorFromConfig(cfg, prober, opts.WorkDir)
			}

			serviceVersion := cfg.Service.Version
			if serviceVersion == "" {
				serviceVersion = version
			}
			launcher := &launch.Launcher{
				WorkDir: opts.WorkDir,
				OTel: launch.OTelEnv{
					Endpoint:       endpoint,
					AccessToken:    token,
					ServiceName:    cfg.Service.Name,
					ServiceVersion: serviceVersion,
				},
			}

			orch := orchestrator.New(orchestrator.Options{
				Endpoint:      endpoint,
				HasToken:      token != "",
				WorkDir:       opts.WorkDir,
				Spec:          serviceSpec(cfg, opts.WorkDir),
				Grace:         grace,
				DashboardURL:  cfg.Stack.DashboardURL,
				CollectorAddr: cfg.CollectorAddr(),
			}, ensurer, launcher, pub)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if detach {
				if err := orch.Launch(ctx); err != nil {
					return err
				}
				h := orch.Handle()
				b, _ := json.MarshalIndent(map[string]any{
					"service":    h.Name,
					"pid":        h.PID,
					"stdout_log": h.StdoutLog,
					"stderr_log": h.StderrLog,
				}, "", "  ")
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			}

			if err := orch.Run(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Stop existing state before starting")
	cmd.Flags().BoolVar(&detach, "detach", false, "Launch and return; pair with otelrun down")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load extra environment from a dotenv file before launching")
	cmd.Flags().Duration("grace", 0, "SIGTERM grace period before SIGKILL (default from config)")
	addProbeFlags(cmd.Flags())
	return cmd
}

// serviceSpec resolves the config's service block against the working
// directory.
func serviceSpec(cfg *config.File, workDir string) launch.Spec {
	cwd := cfg.Service.Cwd
	if cwd == "" {
		cwd = workDir
	} else if !filepath.IsAbs(cwd) {
		cwd = filepath.Join(workDir, cwd)
	}
	spec := launch.Spec{
		Name:    cfg.Service.Name,
		Command: cfg.Service.Command,
		Cwd:     cwd,
		Env:     cfg.Service.Env,
	}
	if cfg.Service.Health != nil {
		spec.Health = &launch.HealthCheck{
			URL:     cfg.Service.Health.URL,
			Address: cfg.Service.Health.Address,
		}
	}
	return spec
}
