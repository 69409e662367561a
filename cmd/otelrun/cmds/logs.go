package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/otelrun/pkg/logfilter"
	"github.com/go-go-golems/otelrun/pkg/state"
)

func newLogsCmd() *cobra.Command {
	var stream string
	var tailLines int
	var follow bool
	var since string
	var jsScript string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print or follow the service's log output",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			run, err := state.Load(opts.WorkDir)
			if err != nil {
				return err
			}

			var path string
			switch stream {
			case "stdout":
				path = run.Service.StdoutLog
			case "stderr":
				path = run.Service.StderrLog
			default:
				return errors.Errorf("unknown stream %q (stdout or stderr)", stream)
			}
			if path == "" {
				return errors.Errorf("no %s log recorded for %s", stream, run.Service.Name)
			}

			var sinceTime time.Time
			if since != "" {
				sinceTime, err = dateparse.ParseAny(since)
				if err != nil {
					return errors.Wrapf(err, "parse --since %q", since)
				}
			}

			var filter *logfilter.Module
			if jsScript != "" {
				filter, err = logfilter.LoadFromFile(jsScript, logfilter.Options{HookTimeout: 200 * time.Millisecond})
				if err != nil {
					return err
				}
			}

			emit := lineEmitter(cmd.OutOrStdout(), path, sinceTime, filter)

			lines, err := state.TailLines(path, tailLines, 2<<20)
			if err != nil {
				return err
			}
			var lineNo int64
			for _, line := range lines {
				lineNo++
				if err := emit(line, lineNo); err != nil {
					return err
				}
			}

			if !follow {
				return nil
			}
			return followLog(cmd.Context(), path, lineNo, emit)
		},
	}

	cmd.Flags().StringVar(&stream, "stream", "stdout", "Which log to read: stdout or stderr")
	cmd.Flags().IntVar(&tailLines, "tail", 50, "How many trailing lines to print first")
	cmd.Flags().BoolVar(&follow, "follow", false, "Keep the log open and print new lines as they arrive")
	cmd.Flags().StringVar(&since, "since", "", "Only print lines with a parseable timestamp at or after this time")
	cmd.Flags().StringVar(&jsScript, "js", "", "Filter/transform lines through a JavaScript module")
	return cmd
}

// lineEmitter builds the per-line pipeline: optional JS filter, optional
// --since cutoff, plain passthrough otherwise.
func lineEmitter(w io.Writer, source string, since time.Time, filter *logfilter.Module) func(line string, n int64) error {
	return func(line string, n int64) error {
		if filter == nil {
			if !since.IsZero() {
				// Without a parser we can only honour --since for lines
				// whose prefix parses as a timestamp.
				if ts, err := dateparse.ParseAny(firstField(line)); err == nil && ts.Before(since) {
					return nil
				}
			}
			_, err := fmt.Fprintln(w, line)
			return err
		}

		ev, err := filter.ProcessLine(line, source, n)
		if err != nil {
			return err
		}
		if ev == nil {
			return nil
		}
		if !since.IsZero() {
			if ts, ok := ev.ParsedTimestamp(); ok && ts.Before(since) {
				return nil
			}
		}
		out, err := ev.JSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, out)
		return err
	}
}

func firstField(line string) string {
	for i, r := range line {
		if r == ' ' || r == '\t' {
			return line[:i]
		}
	}
	return line
}

// followLog polls the file for appended lines, starting at the current
// end. Polling (rather than inotify) keeps it working on every filesystem
// the logs land on.
func followLog(ctx context.Context, path string, lineNo int64, emit func(string, int64) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open log")
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return errors.Wrap(err, "seek log")
	}

	r := bufio.NewReader(f)
	t := time.NewTicker(250 * time.Millisecond)
	defer t.Stop()

	// A line caught mid-write stays in pending until its newline arrives.
	var pending strings.Builder
	for {
		chunk, err := r.ReadString('\n')
		pending.WriteString(chunk)
		if err == nil {
			lineNo++
			if err := emit(trimNewline(pending.String()), lineNo); err != nil {
				return err
			}
			pending.Reset()
			continue
		}
		if !errors.Is(err, io.EOF) {
			return errors.Wrap(err, "read log")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func trimNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		return s[:len(s)-1]
	}
	return s
}
