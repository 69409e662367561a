package state

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

const (
	StateDirName  = ".otelrun"
	StateFilename = "state.json"
	LogsDirName   = "logs"
)

// Run is the persisted record of a single orchestrated run: one service
// child plus the monitoring stack it exports to. It lets status/logs/tui
// inspect the run from another terminal and lets `down` clean up a
// detached run.
type Run struct {
	WorkDir   string        `json:"work_dir"`
	Endpoint  string        `json:"endpoint"`
	HasToken  bool          `json:"has_token"`
	CreatedAt time.Time     `json:"created_at"`
	Service   ServiceRecord `json:"service"`
	Stack     StackRecord   `json:"stack"`
}

type ServiceRecord struct {
	Name      string            `json:"name"`
	PID       int               `json:"pid"`
	Command   []string          `json:"command"`
	Cwd       string            `json:"cwd"`
	Env       map[string]string `json:"env,omitempty"`
	StdoutLog string            `json:"stdout_log"`
	StderrLog string            `json:"stderr_log"`
	ExitInfo  string            `json:"exit_info,omitempty"`
	StartedAt time.Time         `json:"started_at,omitempty"`
}

type StackRecord struct {
	// StartedByUs records ownership: cleanup stops the stack only when this
	// run actually issued the start command.
	StartedByUs   bool   `json:"started_by_us"`
	DashboardURL  string `json:"dashboard_url,omitempty"`
	CollectorAddr string `json:"collector_addr,omitempty"`
}

func StatePath(workDir string) string {
	return filepath.Join(workDir, StateDirName, StateFilename)
}

func LogsDir(workDir string) string {
	return filepath.Join(workDir, StateDirName, LogsDirName)
}

func Load(workDir string) (*Run, error) {
	path := StatePath(workDir)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read state")
	}
	var r Run
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, errors.Wrap(err, "parse state json")
	}
	return &r, nil
}

func Save(workDir string, r *Run) error {
	if r == nil {
		return errors.New("nil run")
	}
	dir := filepath.Dir(StatePath(workDir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "mkdir state dir")
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}
	if err := os.WriteFile(StatePath(workDir), b, 0o644); err != nil {
		return errors.Wrap(err, "write state")
	}
	return nil
}

func Remove(workDir string) error {
	path := StatePath(workDir)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "remove state")
	}
	return nil
}

func Exists(workDir string) bool {
	_, err := os.Stat(StatePath(workDir))
	return err == nil
}

func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if isZombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	if stderrors.Is(err, syscall.EPERM) {
		return true
	}
	return false
}

func isZombie(pid int) bool {
	path := fmt.Sprintf("/proc/%d/stat", pid)
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	// Format: pid (comm) state ...
	// We want the state character after the closing ')'.
	i := bytes.LastIndexByte(b, ')')
	if i < 0 {
		return false
	}
	rest := bytes.TrimSpace(b[i+1:])
	fields := bytes.Fields(rest)
	if len(fields) < 1 || len(fields[0]) < 1 {
		return false
	}
	return fields[0][0] == 'Z'
}
