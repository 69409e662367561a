package launch

import (
	"context"
	stderrors "errors"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/otelrun/pkg/state"
)

// Spec describes the service child to launch.
type Spec struct {
	Name    string            `json:"name"`
	Command []string          `json:"command"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Health  *HealthCheck      `json:"health,omitempty"`
}

// HealthCheck is an optional post-launch reachability check. It never gates
// the launch; it only feeds status reporting.
type HealthCheck struct {
	URL     string `json:"url,omitempty"`
	Address string `json:"address,omitempty"`
}

// ExitResult is delivered on Handle.Done when the child exits.
type ExitResult struct {
	Code     int
	Signal   string
	Err      error
	ExitedAt time.Time
}

// Handle is the orchestrator's grip on the one live child process.
type Handle struct {
	Name         string
	PID          int
	StdoutLog    string
	StderrLog    string
	ExitInfoPath string
	StartedAt    time.Time

	// Done receives exactly one ExitResult when the child exits.
	Done <-chan ExitResult
}

// Launcher starts service children with telemetry export wired into their
// environment. Non-blocking: Start returns as soon as the process exists.
type Launcher struct {
	WorkDir string
	OTel    OTelEnv
}

func (l *Launcher) Start(ctx context.Context, spec Spec) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "launch cancelled")
	}
	if spec.Name == "" {
		return nil, errors.New("service name is required")
	}
	if len(spec.Command) == 0 {
		return nil, errors.Errorf("service %q missing command", spec.Name)
	}
	if l.WorkDir == "" {
		return nil, errors.New("missing WorkDir")
	}

	logsDir := state.LogsDir(l.WorkDir)
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir logs dir")
	}

	cwd := l.WorkDir
	if spec.Cwd != "" {
		if filepath.IsAbs(spec.Cwd) {
			cwd = spec.Cwd
		} else {
			cwd = filepath.Join(l.WorkDir, spec.Cwd)
		}
	}

	ts := time.Now().Format("20060102-150405")
	stdoutPath := filepath.Join(logsDir, spec.Name+"-"+ts+".stdout.log")
	stderrPath := filepath.Join(logsDir, spec.Name+"-"+ts+".stderr.log")
	exitInfoPath := filepath.Join(logsDir, spec.Name+"-"+ts+".exit.json")

	stdoutFile, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "open stdout log")
	}
	stderrFile, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		_ = stdoutFile.Close()
		return nil, errors.Wrap(err, "open stderr log")
	}

	// Deliberately not CommandContext: cancellation must go through
	// Terminate so the child gets SIGTERM and a grace period, not an
	// immediate kill.
	// #nosec G204 -- command comes from the user's config file.
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = cwd
	cmd.Env = BuildEnviron(os.Environ(), spec.Env, l.OTel)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	startedAt := time.Now()
	if err := cmd.Start(); err != nil {
		_ = stdoutFile.Close()
		_ = stderrFile.Close()
		return nil, errors.Wrapf(err, "start service %q", spec.Name)
	}

	pid := cmd.Process.Pid
	log.Info().Str("service", spec.Name).Int("pid", pid).Str("endpoint", l.OTel.Endpoint).Msg("service started")

	done := make(chan ExitResult, 1)
	go func() {
		waitErr := cmd.Wait()
		_ = stdoutFile.Close()
		_ = stderrFile.Close()
		res := exitResultFromWait(waitErr)
		writeExitInfo(exitInfoPath, spec.Name, pid, startedAt, stderrPath, res)
		done <- res
	}()

	return &Handle{
		Name:         spec.Name,
		PID:          pid,
		StdoutLog:    stdoutPath,
		StderrLog:    stderrPath,
		ExitInfoPath: exitInfoPath,
		StartedAt:    startedAt,
		Done:         done,
	}, nil
}

// BuildEnviron merges the inherited environment, the Spec's extra variables
// and the OTEL_* exports, in that precedence order.
func BuildEnviron(base []string, extra map[string]string, otel OTelEnv) []string {
	out := append([]string{}, base...)
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	for k, v := range otel.Environ() {
		out = append(out, k+"="+v)
	}
	return out
}

func exitResultFromWait(waitErr error) ExitResult {
	res := ExitResult{ExitedAt: time.Now()}
	if waitErr == nil {
		return res
	}
	res.Err = waitErr
	res.Code = -1
	var ee *exec.ExitError
	if stderrors.As(waitErr, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				res.Signal = ws.Signal().String()
			}
			if ws.Exited() {
				res.Code = ws.ExitStatus()
			}
		}
	}
	return res
}

func writeExitInfo(path, name string, pid int, startedAt time.Time, stderrLog string, res ExitResult) {
	info := state.ExitInfo{
		Service:   name,
		PID:       pid,
		StartedAt: startedAt,
		ExitedAt:  res.ExitedAt,
	}
	code := res.Code
	info.ExitCode = &code
	if res.Signal != "" {
		info.Signal = res.Signal
	}
	if res.Err != nil {
		info.Error = res.Err.Error()
	}
	if lines, err := state.TailLines(stderrLog, 25, 2<<20); err == nil {
		info.StderrTail = lines
	}
	if err := state.WriteExitInfo(path, info); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("write exit info failed")
	}
}
