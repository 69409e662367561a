package events

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"

	"github.com/go-go-golems/otelrun/pkg/proc"
	"github.com/go-go-golems/otelrun/pkg/state"
)

// RunSnapshot is the periodic picture of the current run consumed by the
// TUI: state file contents, child aliveness and its /proc stats.
type RunSnapshot struct {
	WorkDir      string      `json:"work_dir"`
	At           time.Time   `json:"at"`
	Exists       bool        `json:"exists"`
	Error        string      `json:"error,omitempty"`
	Run          *state.Run  `json:"run,omitempty"`
	Alive        bool        `json:"alive"`
	ProcessStats *proc.Stats `json:"process_stats,omitempty"`
}

// StateWatcher polls the state file and publishes RunSnapshot events. It
// also notices the child dying between polls and emits a service.exited
// event for it.
type StateWatcher struct {
	WorkDir  string
	Interval time.Duration
	Pub      message.Publisher

	lastAlive  bool
	lastExists bool
	cpuTracker *proc.CPUTracker
}

func (w *StateWatcher) Run(ctx context.Context) error {
	if w.WorkDir == "" {
		return errors.New("missing WorkDir")
	}
	if w.Pub == nil {
		return errors.New("missing Publisher")
	}
	if w.Interval <= 0 {
		w.Interval = 1 * time.Second
	}
	w.cpuTracker = proc.NewCPUTracker()

	t := time.NewTicker(w.Interval)
	defer t.Stop()

	for {
		if err := w.emitSnapshot(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (w *StateWatcher) emitSnapshot() error {
	now := time.Now()

	if !state.Exists(w.WorkDir) {
		w.lastAlive = false
		w.lastExists = false
		return w.publish(RunSnapshot{WorkDir: w.WorkDir, At: now, Exists: false})
	}

	run, err := state.Load(w.WorkDir)
	if err != nil {
		w.lastAlive = false
		w.lastExists = true
		return w.publish(RunSnapshot{WorkDir: w.WorkDir, At: now, Exists: true, Error: errors.Wrap(err, "load state").Error()})
	}

	alive := state.ProcessAlive(run.Service.PID)

	if w.lastExists && w.lastAlive && !alive {
		exited := ServiceExited{Name: run.Service.Name}
		if info, err := state.ReadExitInfo(run.Service.ExitInfo); err == nil {
			if info.ExitCode != nil {
				exited.Code = *info.ExitCode
			}
			exited.Signal = info.Signal
		}
		if err := Publish(w.Pub, TopicRunEvents, TypeServiceExited, exited); err != nil {
			return err
		}
	}
	w.lastAlive = alive
	w.lastExists = true

	snap := RunSnapshot{WorkDir: w.WorkDir, At: now, Exists: true, Run: run, Alive: alive}
	if alive {
		if stats, err := proc.ReadStats(run.Service.PID, w.cpuTracker); err == nil {
			snap.ProcessStats = stats
		}
	}
	return w.publish(snap)
}

func (w *StateWatcher) publish(snap RunSnapshot) error {
	return Publish(w.Pub, TopicRunEvents, TypeRunSnapshot, snap)
}
