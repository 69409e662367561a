package launch

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/otelrun/pkg/state"
)

func tempWorkDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "otelrun-launch-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func TestStart_ChildRunsWithOTelEnv(t *testing.T) {
	dir := tempWorkDir(t)

	l := &Launcher{
		WorkDir: dir,
		OTel: OTelEnv{
			Endpoint:       "http://localhost:4317",
			AccessToken:    "tok-abc",
			ServiceName:    "envdump",
			ServiceVersion: "test",
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := l.Start(ctx, Spec{
		Name:    "envdump",
		Command: []string{"bash", "-c", "env | grep ^OTEL_"},
	})
	require.NoError(t, err)
	require.Greater(t, h.PID, 0)

	select {
	case res := <-h.Done:
		require.Equal(t, 0, res.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit")
	}

	b, err := os.ReadFile(h.StdoutLog)
	require.NoError(t, err)
	out := string(b)
	require.Contains(t, out, "OTEL_EXPORTER_OTLP_ENDPOINT=http://localhost:4317")
	require.Contains(t, out, "OTEL_RESOURCE_ATTRIBUTES=service.name=envdump,service.version=test")
	require.Contains(t, out, "OTEL_EXPORTER_OTLP_HEADERS=signoz-access-token=tok-abc")
}

func TestStart_LaunchFailureSurfacesImmediately(t *testing.T) {
	dir := tempWorkDir(t)
	l := &Launcher{WorkDir: dir, OTel: OTelEnv{Endpoint: "http://localhost:4317", ServiceName: "x", ServiceVersion: "dev"}}

	_, err := l.Start(context.Background(), Spec{
		Name:    "missing",
		Command: []string{"/nonexistent/binary-that-does-not-exist"},
	})
	require.Error(t, err)
}

func TestStart_ExitInfoWrittenOnNonZeroExit(t *testing.T) {
	dir := tempWorkDir(t)
	l := &Launcher{WorkDir: dir, OTel: OTelEnv{Endpoint: "http://localhost:4317", ServiceName: "x", ServiceVersion: "dev"}}

	h, err := l.Start(context.Background(), Spec{
		Name:    "crashy",
		Command: []string{"bash", "-c", "echo boom >&2; exit 3"},
	})
	require.NoError(t, err)

	var res ExitResult
	select {
	case res = <-h.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit")
	}
	require.Equal(t, 3, res.Code)

	info, err := state.ReadExitInfo(h.ExitInfoPath)
	require.NoError(t, err)
	require.NotNil(t, info.ExitCode)
	require.Equal(t, 3, *info.ExitCode)
	require.Contains(t, info.StderrTail, "boom")
}

func TestTerminate_SigtermStopsChild(t *testing.T) {
	dir := tempWorkDir(t)
	l := &Launcher{WorkDir: dir, OTel: OTelEnv{Endpoint: "http://localhost:4317", ServiceName: "x", ServiceVersion: "dev"}}

	h, err := l.Start(context.Background(), Spec{
		Name:    "sleeper",
		Command: []string{"bash", "-c", "sleep 30"},
	})
	require.NoError(t, err)
	require.True(t, state.ProcessAlive(h.PID))

	require.NoError(t, h.Terminate(2*time.Second))
	require.False(t, state.ProcessAlive(h.PID))

	select {
	case res := <-h.Done:
		require.NotEmpty(t, res.Signal)
	case <-time.After(3 * time.Second):
		t.Fatal("Done not delivered after terminate")
	}
}

func TestTerminate_EscalatesToKill(t *testing.T) {
	dir := tempWorkDir(t)
	l := &Launcher{WorkDir: dir, OTel: OTelEnv{Endpoint: "http://localhost:4317", ServiceName: "x", ServiceVersion: "dev"}}

	// Child ignores SIGTERM; only SIGKILL can stop it.
	h, err := l.Start(context.Background(), Spec{
		Name:    "stubborn",
		Command: []string{"bash", "-c", "trap '' TERM; sleep 30 & wait"},
	})
	require.NoError(t, err)

	// Give bash a moment to install the trap.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, h.Terminate(500*time.Millisecond))

	deadline := time.Now().Add(3 * time.Second)
	for state.ProcessAlive(h.PID) && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	require.False(t, state.ProcessAlive(h.PID))
}
