package cmds

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/otelrun/pkg/state"
)

// Spawns a SIGTERM-ignoring child in its own process group and records it
// in a state file, as a run left behind by a crashed wrapper would be.
func stubbornRun(t *testing.T, dir string) int {
	t.Helper()
	cmd := exec.Command("bash", "-c", "trap '' TERM; sleep 30 & wait")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	go func() { _ = cmd.Wait() }()
	t.Cleanup(func() { _ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL) })

	// Give bash a moment to install the trap.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, state.Save(dir, &state.Run{
		WorkDir: dir,
		Service: state.ServiceRecord{Name: "stubborn", PID: cmd.Process.Pid},
	}))
	return cmd.Process.Pid
}

func TestStopFromState_GraceOverridesConfig(t *testing.T) {
	dir := t.TempDir()
	pid := stubbornRun(t, dir)
	opts := rootOptions{WorkDir: dir, Config: filepath.Join(dir, "no-such-config.yaml")}

	// The configured default grace is 5s; a 300ms override has to finish
	// escalation well before that.
	start := time.Now()
	require.NoError(t, stopFromState(context.Background(), opts, 300*time.Millisecond))
	require.Less(t, time.Since(start), 4*time.Second)

	require.False(t, state.ProcessAlive(pid))
	require.False(t, state.Exists(dir))
}

func TestStopFromState_ZeroGraceFallsBackToConfig(t *testing.T) {
	dir := t.TempDir()
	pid := stubbornRun(t, dir)
	opts := rootOptions{WorkDir: dir, Config: filepath.Join(dir, "no-such-config.yaml")}

	require.NoError(t, stopFromState(context.Background(), opts, 0))
	require.False(t, state.ProcessAlive(pid))
	require.False(t, state.Exists(dir))
}

func TestStopFromState_StopsOwnedStack(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "stack-stopped")
	cfgPath := filepath.Join(dir, "otelrun.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
stack:
  start: ["true"]
  stop: ["touch", "`+marker+`"]
`), 0o644))

	require.NoError(t, state.Save(dir, &state.Run{
		WorkDir: dir,
		Service: state.ServiceRecord{Name: "gone", PID: 1 << 30},
		Stack:   state.StackRecord{StartedByUs: true},
	}))

	opts := rootOptions{WorkDir: dir, Config: cfgPath}
	require.NoError(t, stopFromState(context.Background(), opts, 0))

	_, err := os.Stat(marker)
	require.NoError(t, err, "stack stop command did not run")
	require.False(t, state.Exists(dir))
}

func TestDownCommandReadsGraceFlag(t *testing.T) {
	cmd := newDownCmd()
	require.NoError(t, cmd.Flags().Set("grace", "250ms"))
	grace, err := cmd.Flags().GetDuration("grace")
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, grace)
}
