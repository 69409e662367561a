package cmds

import (
	"github.com/spf13/cobra"

	"github.com/go-go-golems/otelrun/cmd/otelrun/cmds/smoketest"
)

func AddCommands(root *cobra.Command, version string) error {
	root.AddCommand(newUpCmd(version))
	root.AddCommand(newDownCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newLogsCmd())
	root.AddCommand(newProbeCmd())
	root.AddCommand(newTuiCmd())
	root.AddCommand(smoketest.NewCmd(version))
	return nil
}
