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

	"github.com/go-go-golems/otelrun/pkg/launch"
	"github.com/go-go-golems/otelrun/pkg/logfilter"
	"github.com/go-go-golems/otelrun/pkg/state"
)

const spewerFilterJS = `
register({
  name: "spewer",
  parse: (line, ctx) => {
    const m = log.namedCapture(line, /^(?<ts>\S+) (?<level>\S+) (?<msg>.*)$/);
    if (!m) return null;
    return { timestamp: log.parseTimestamp(m.ts), level: m.level.toLowerCase(), message: m.msg };
  },
  filter: (ev) => ev.level !== "debug",
});
`

func newLogsCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Smoke test: launch the log spewer and run its output through a JS filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			workDir, err := os.MkdirTemp("", "otelrun-smoketest-logs-*")
			if err != nil {
				return err
			}
			defer func() { _ = os.RemoveAll(workDir) }()

			root := findRootFromCaller()
			spewerBin := filepath.Join(workDir, "bin", "log-spewer")
			if err := os.MkdirAll(filepath.Dir(spewerBin), 0o755); err != nil {
				return err
			}
			if err := buildTestApp(ctx, root, "./testapps/cmd/log-spewer", spewerBin); err != nil {
				return err
			}

			launcher := &launch.Launcher{WorkDir: workDir}
			h, err := launcher.Start(ctx, launch.Spec{
				Name:    "spewer",
				Command: []string{spewerBin, "--interval", "10ms", "--lines", "30"},
				Cwd:     workDir,
			})
			if err != nil {
				return err
			}
			defer func() { _ = h.Terminate(2 * time.Second) }()

			time.Sleep(500 * time.Millisecond)

			scriptPath := filepath.Join(workDir, "spewer.js")
			if err := os.WriteFile(scriptPath, []byte(spewerFilterJS), 0o644); err != nil {
				return err
			}
			filter, err := logfilter.LoadFromFile(scriptPath, logfilter.Options{HookTimeout: 200 * time.Millisecond})
			if err != nil {
				return err
			}

			lines, err := state.TailLines(h.StdoutLog, 100, 2<<20)
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				return errors.New("expected spewer stdout to be non-empty")
			}

			var events, withTimestamp int
			for i, line := range lines {
				ev, err := filter.ProcessLine(line, h.StdoutLog, int64(i+1))
				if err != nil {
					return err
				}
				if ev == nil {
					continue
				}
				events++
				if _, ok := ev.ParsedTimestamp(); ok {
					withTimestamp++
				}
			}

			stats := filter.Stats()
			if events == 0 {
				return errors.New("filter emitted no events")
			}
			if stats.LinesDropped == 0 {
				return errors.New("expected the filter to drop debug lines")
			}
			if withTimestamp != events {
				return errors.Errorf("expected every event to carry a timestamp, got %d/%d", withTimestamp, events)
			}

			if err := h.Terminate(2 * time.Second); err != nil {
				return err
			}

			out := map[string]any{"ok": true, "lines": len(lines), "events": events, "dropped": stats.LinesDropped}
			b, _ := json.MarshalIndent(out, "", "  ")
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			log.Info().Msg("smoketest logs ok")
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout for the smoketest")
	return cmd
}
