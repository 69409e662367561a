package cmds

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/otelrun/pkg/config"
)

func newProbeCmd() *cobra.Command {
	var tcp bool

	cmd := &cobra.Command{
		Use:   "probe <url-or-address>",
		Short: "Wait for a target to answer; exits non-zero when the attempt budget runs out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.LoadOptional(opts.Config)
			if err != nil {
				return err
			}
			prober, err := proberFromFlags(cmd.Flags(), cfg)
			if err != nil {
				return err
			}
			prober.OnAttempt = func(target string, attempt, max int, reachable bool) {
				log.Info().Str("target", target).Int("attempt", attempt).Int("max", max).Bool("reachable", reachable).Msg("probe")
			}

			target := args[0]
			if tcp {
				err = prober.WaitTCP(cmd.Context(), target)
			} else {
				err = prober.Wait(cmd.Context(), target)
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	cmd.Flags().BoolVar(&tcp, "tcp", false, "Probe a TCP address instead of an HTTP URL")
	addProbeFlags(cmd.Flags())
	return cmd
}
