package smoketest

import (
	"github.com/spf13/cobra"
)

// NewCmd groups the self-test commands: metrics exercises the OTLP export
// path against a live collector, orchestrate runs the whole lifecycle in a
// throwaway directory.
func NewCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoketest",
		Short: "Run otelrun smoke/integration tests (dev-only)",
	}

	cmd.AddCommand(
		newMetricsCmd(version),
		newOrchestrateCmd(),
		newLogsCmd(),
		newFailuresCmd(),
	)

	return cmd
}
