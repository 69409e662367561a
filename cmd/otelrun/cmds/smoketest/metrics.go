package smoketest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/otelrun/pkg/config"
	"github.com/go-go-golems/otelrun/pkg/telemetry"
)

func newMetricsCmd(version string) *cobra.Command {
	var duration time.Duration
	var interval time.Duration
	var serviceName string

	cmd := &cobra.Command{
		Use:   "metrics [endpoint] [access-token]",
		Short: "Emit the shop metric set over OTLP for a bounded duration",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint := config.DefaultEndpoint
			if len(args) > 0 && args[0] != "" {
				endpoint = args[0]
			}
			token := ""
			if len(args) > 1 {
				token = args[1]
			}

			log.Info().Str("endpoint", endpoint).Dur("duration", duration).Msg("starting metrics smoke run")

			report, err := telemetry.RunSmoke(cmd.Context(), telemetry.Config{
				Endpoint:       endpoint,
				AccessToken:    token,
				ServiceName:    serviceName,
				ServiceVersion: version,
			}, telemetry.SmokeOptions{
				Duration: duration,
				Interval: interval,
			})
			if err != nil {
				return err
			}

			b, _ := json.MarshalIndent(report, "", "  ")
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 30*time.Second, "How long to emit metrics")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Delay between metric batches")
	cmd.Flags().StringVar(&serviceName, "service-name", "xcart-smoke", "service.name resource attribute")
	return cmd
}
