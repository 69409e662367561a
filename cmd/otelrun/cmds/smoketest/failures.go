package smoketest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/otelrun/pkg/events"
	"github.com/go-go-golems/otelrun/pkg/launch"
	"github.com/go-go-golems/otelrun/pkg/orchestrator"
	"github.com/go-go-golems/otelrun/pkg/state"
)

// remoteEndpoint keeps the failure scenarios away from the stack
// supervisor: non-local endpoints never touch it.
const remoteEndpoint = "https://ingest.example.com:4317"

func newFailuresCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "failures",
		Short: "Smoke test: child crash and launch failure behaviors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := smoketestChildCrash(ctx); err != nil {
				return err
			}
			if err := smoketestLaunchFails(ctx); err != nil {
				return err
			}

			out := map[string]any{"ok": true}
			b, _ := json.MarshalIndent(out, "", "  ")
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			log.Info().Msg("smoketest failures ok")
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout for the smoketest")
	return cmd
}

// smoketestChildCrash verifies that a child exiting non-zero surfaces its
// exit code and still leaves a clean state directory behind.
func smoketestChildCrash(ctx context.Context) error {
	workDir, err := os.MkdirTemp("", "otelrun-smoketest-crash-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	root := findRootFromCaller()
	crashBin := filepath.Join(workDir, "bin", "crash-after")
	if err := os.MkdirAll(filepath.Dir(crashBin), 0o755); err != nil {
		return err
	}
	if err := buildTestApp(ctx, root, "./testapps/cmd/crash-after", crashBin); err != nil {
		return err
	}

	orch := orchestrator.New(orchestrator.Options{
		Endpoint: remoteEndpoint,
		WorkDir:  workDir,
		Spec: launch.Spec{
			Name:    "crasher",
			Command: []string{crashBin, "--after", "250ms", "--code", "7"},
			Cwd:     workDir,
		},
		Grace: 2 * time.Second,
	}, nil, &launch.Launcher{WorkDir: workDir}, events.LogPublisher{})

	err = orch.Run(ctx)
	var exitErr *orchestrator.ChildExitError
	if !errors.As(err, &exitErr) {
		return errors.Errorf("expected a child exit error, got %v", err)
	}
	if exitErr.Code != 7 {
		return errors.Errorf("expected exit code 7, got %d", exitErr.Code)
	}
	if state.Exists(workDir) {
		return errors.New("state file survived the crash path")
	}
	return nil
}

func smoketestLaunchFails(ctx context.Context) error {
	workDir, err := os.MkdirTemp("", "otelrun-smoketest-launchfail-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	orch := orchestrator.New(orchestrator.Options{
		Endpoint: remoteEndpoint,
		WorkDir:  workDir,
		Spec: launch.Spec{
			Name:    "ghost",
			Command: []string{filepath.Join(workDir, "does-not-exist")},
			Cwd:     workDir,
		},
		Grace: 2 * time.Second,
	}, nil, &launch.Launcher{WorkDir: workDir}, events.LogPublisher{})

	if err := orch.Run(ctx); err == nil {
		return errors.New("expected launch to fail")
	}
	if state.Exists(workDir) {
		return errors.New("state file written for a failed launch")
	}
	return nil
}
