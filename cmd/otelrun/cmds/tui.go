package cmds

import (
	"context"
	stderrors "errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/otelrun/pkg/events"
	"github.com/go-go-golems/otelrun/pkg/tui"
)

func newTuiCmd() *cobra.Command {
	var refresh time.Duration
	var altScreen bool

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Live dashboard for the current run",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			bus, err := events.NewInMemoryBus()
			if err != nil {
				return err
			}

			model := tui.NewModel()
			programOptions := []tea.ProgramOption{
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
			}
			if altScreen {
				programOptions = append(programOptions, tea.WithAltScreen())
			}
			program := tea.NewProgram(model, programOptions...)
			tui.RegisterForwarder(bus, program)

			watcher := &events.StateWatcher{
				WorkDir:  opts.WorkDir,
				Interval: refresh,
				Pub:      bus.Publisher,
			}

			eg, egCtx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				err := bus.Run(egCtx)
				if stderrors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
			eg.Go(func() error {
				err := watcher.Run(egCtx)
				if stderrors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
			eg.Go(func() error {
				_, err := program.Run()
				cancel()
				if stderrors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})

			if err := eg.Wait(); err != nil {
				return errors.Wrap(err, "tui")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&refresh, "refresh", 1*time.Second, "Refresh interval for state polling")
	cmd.Flags().BoolVar(&altScreen, "alt-screen", true, "Use the terminal alternate screen buffer")
	return cmd
}
