package smoketest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/otelrun/pkg/events"
	"github.com/go-go-golems/otelrun/pkg/launch"
	"github.com/go-go-golems/otelrun/pkg/orchestrator"
	"github.com/go-go-golems/otelrun/pkg/probe"
	"github.com/go-go-golems/otelrun/pkg/stack"
	"github.com/go-go-golems/otelrun/pkg/state"
)

func newOrchestrateCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "orchestrate",
		Short: "End-to-end self-test: fake stack, built test app, full up/down lifecycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			workDir, err := os.MkdirTemp("", "otelrun-smoketest-*")
			if err != nil {
				return err
			}
			defer func() { _ = os.RemoveAll(workDir) }()

			root := findRootFromCaller()
			apiBin := filepath.Join(workDir, "bin", "otel-api")
			if err := os.MkdirAll(filepath.Dir(apiBin), 0o755); err != nil {
				return err
			}
			if err := buildTestApp(ctx, root, "./testapps/cmd/otel-api", apiBin); err != nil {
				return err
			}

			apiPort, err := findFreeTCPPort()
			if err != nil {
				return err
			}
			dashPort, err := findFreeTCPPort()
			if err != nil {
				return err
			}
			collPort, err := findFreeTCPPort()
			if err != nil {
				return err
			}

			endpoint := fmt.Sprintf("http://localhost:%d", collPort)
			dashboardURL := fmt.Sprintf("http://127.0.0.1:%d/", dashPort)
			collectorAddr := fmt.Sprintf("127.0.0.1:%d", collPort)
			apiURL := fmt.Sprintf("http://127.0.0.1:%d", apiPort)

			fake := &fakeStack{
				dashboardAddr: fmt.Sprintf("127.0.0.1:%d", dashPort),
				collectorAddr: collectorAddr,
			}
			prober := probe.New(50, 100*time.Millisecond, 500*time.Millisecond)

			orch := orchestrator.New(orchestrator.Options{
				Endpoint: endpoint,
				WorkDir:  workDir,
				Spec: launch.Spec{
					Name:    "otel-api",
					Command: []string{apiBin, "--port", fmt.Sprint(apiPort)},
					Cwd:     workDir,
					Health:  &launch.HealthCheck{URL: apiURL + "/health"},
				},
				Grace:         2 * time.Second,
				DashboardURL:  dashboardURL,
				CollectorAddr: collectorAddr,
			}, &stack.Supervisor{
				Controller:    fake,
				Prober:        prober,
				DashboardURL:  dashboardURL,
				CollectorAddr: collectorAddr,
			}, &launch.Launcher{
				WorkDir: workDir,
				OTel: launch.OTelEnv{
					Endpoint:       endpoint,
					ServiceName:    "otel-api",
					ServiceVersion: "smoketest",
				},
			}, events.LogPublisher{})

			if err := orch.Launch(ctx); err != nil {
				return err
			}
			if !orch.StackStarted() {
				return errors.New("expected this run to start the fake stack")
			}

			runCtx, runCancel := context.WithCancel(ctx)
			defer runCancel()
			waitCh := make(chan error, 1)
			go func() { waitCh <- orch.Wait(runCtx) }()

			if err := prober.Wait(ctx, apiURL+"/health"); err != nil {
				return errors.Wrap(err, "test app never became healthy")
			}

			body, err := httpGetBody(ctx, apiURL+"/")
			if err != nil {
				return err
			}
			if !strings.Contains(body, "OTEL_EXPORTER_OTLP_ENDPOINT="+endpoint) {
				return errors.Errorf("test app did not see the OTLP endpoint, body: %s", body)
			}
			if !strings.Contains(body, "service.name=otel-api") {
				return errors.Errorf("test app did not see resource attributes, body: %s", body)
			}

			run, err := state.Load(workDir)
			if err != nil {
				return errors.Wrap(err, "state file after launch")
			}
			if !run.Stack.StartedByUs {
				return errors.New("state file does not record stack ownership")
			}
			pid := run.Service.PID

			runCancel()
			select {
			case err := <-waitCh:
				if err != nil {
					return errors.Wrap(err, "shutdown")
				}
			case <-ctx.Done():
				return errors.New("shutdown timed out")
			}

			if state.Exists(workDir) {
				return errors.New("state file survived shutdown")
			}
			if state.ProcessAlive(pid) {
				return errors.Errorf("test app pid %d survived shutdown", pid)
			}
			if !fake.stopped.Load() {
				return errors.New("owned stack was not stopped")
			}

			out := map[string]any{"ok": true, "work_dir": workDir, "pid": pid}
			b, _ := json.MarshalIndent(out, "", "  ")
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			log.Info().Msg("smoketest orchestrate ok")
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "Overall timeout for the smoketest")
	return cmd
}

// fakeStack stands in for the docker-compose monitoring stack: an HTTP
// dashboard plus a TCP collector port, both dead until Start.
type fakeStack struct {
	dashboardAddr string
	collectorAddr string

	dashboard *http.Server
	collector net.Listener
	stopped   atomic.Bool
}

func (f *fakeStack) Name() string { return "fake-stack" }

func (f *fakeStack) Start(ctx context.Context) error {
	dashLn, err := net.Listen("tcp", f.dashboardAddr)
	if err != nil {
		return errors.Wrap(err, "fake dashboard listen")
	}
	f.dashboard = &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})}
	go func() { _ = f.dashboard.Serve(dashLn) }()

	collLn, err := net.Listen("tcp", f.collectorAddr)
	if err != nil {
		_ = f.dashboard.Close()
		return errors.Wrap(err, "fake collector listen")
	}
	f.collector = collLn
	go func() {
		for {
			c, err := collLn.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()
	return nil
}

func (f *fakeStack) Stop(ctx context.Context) error {
	f.stopped.Store(true)
	if f.dashboard != nil {
		_ = f.dashboard.Close()
	}
	if f.collector != nil {
		_ = f.collector.Close()
	}
	return nil
}

func httpGetBody(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "GET %s", url)
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
