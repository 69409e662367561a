package main

import (
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/otelrun/cmd/otelrun/cmds"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "otelrun",
	Short:   "otelrun runs a service under an OpenTelemetry monitoring stack",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitLoggerFromCobra(cmd)
	},
}

func main() {
	cobra.CheckErr(logging.AddLoggingLayerToRootCommand(rootCmd, "otelrun"))
	cmds.AddRootFlags(rootCmd)
	cobra.CheckErr(cmds.AddCommands(rootCmd, version))
	cobra.CheckErr(rootCmd.Execute())
}
