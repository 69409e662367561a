package cmds

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/otelrun/pkg/proc"
	"github.com/go-go-golems/otelrun/pkg/state"
)

func newStatusCmd() *cobra.Command {
	var tailLines int
	var withStats bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of the current run as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			run, err := state.Load(opts.WorkDir)
			if err != nil {
				return err
			}

			alive := state.ProcessAlive(run.Service.PID)

			var exitInfo *state.ExitInfo
			if !alive && run.Service.ExitInfo != "" {
				if _, err := os.Stat(run.Service.ExitInfo); err == nil {
					if ei, err := state.ReadExitInfo(run.Service.ExitInfo); err == nil {
						exitInfo = ei
						if tailLines > 0 && len(exitInfo.StderrTail) > tailLines {
							exitInfo.StderrTail = append([]string{}, exitInfo.StderrTail[len(exitInfo.StderrTail)-tailLines:]...)
						}
					}
				}
			}
			if !alive && exitInfo == nil && tailLines > 0 {
				if lines, err := state.TailLines(run.Service.StderrLog, tailLines, 2<<20); err == nil {
					exitInfo = &state.ExitInfo{
						Service:    run.Service.Name,
						PID:        run.Service.PID,
						StartedAt:  run.Service.StartedAt,
						ExitedAt:   time.Now(),
						Error:      "exit info unavailable; stderr tail captured at status time",
						StderrTail: lines,
					}
				}
			}

			var uptime string
			if alive {
				// The kernel's start time for the PID beats the recorded
				// launch time; a mismatch also means the PID was reused.
				started := run.Service.StartedAt
				if st, err := proc.StartTime(run.Service.PID); err == nil {
					started = st
				}
				if !started.IsZero() {
					uptime = time.Since(started).Round(time.Second).String()
				}
			}

			var stats *proc.Stats
			if withStats && alive {
				tracker := proc.NewCPUTracker()
				if _, err := proc.ReadStats(run.Service.PID, tracker); err == nil {
					// Sample twice: CPU percent needs a delta.
					time.Sleep(200 * time.Millisecond)
					if s, err := proc.ReadStats(run.Service.PID, tracker); err == nil {
						stats = s
					}
				}
			}

			out := map[string]any{
				"service":    run.Service.Name,
				"pid":        run.Service.PID,
				"alive":      alive,
				"endpoint":   run.Endpoint,
				"has_token":  run.HasToken,
				"stdout_log": run.Service.StdoutLog,
				"stderr_log": run.Service.StderrLog,
				"stack": map[string]any{
					"started_by_us": run.Stack.StartedByUs,
					"dashboard_url": run.Stack.DashboardURL,
				},
				"created_at": run.CreatedAt,
			}
			if uptime != "" {
				out["uptime"] = uptime
			}
			if exitInfo != nil {
				out["exit"] = exitInfo
			}
			if stats != nil {
				out["process_stats"] = stats
			}

			b, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return errors.Wrap(err, "marshal status")
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}

	cmd.Flags().IntVar(&tailLines, "tail-lines", 25, "How many stderr lines to include when the service is dead")
	cmd.Flags().BoolVar(&withStats, "stats", false, "Include CPU/memory stats sampled from /proc")
	return cmd
}
