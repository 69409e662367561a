package cmds

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-go-golems/otelrun/pkg/config"
	"github.com/go-go-golems/otelrun/pkg/probe"
)

type rootOptions struct {
	WorkDir string
	Config  string
}

func AddRootFlags(root *cobra.Command) {
	root.PersistentFlags().String("work-dir", "", "Working directory (defaults to current directory)")
	root.PersistentFlags().String("config", "", "Path to config file (defaults to .otelrun.yaml under work-dir)")
}

func getRootOptions(cmd *cobra.Command) (rootOptions, error) {
	workDir, err := cmd.Root().PersistentFlags().GetString("work-dir")
	if err != nil {
		return rootOptions{}, err
	}
	if workDir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			return rootOptions{}, err
		}
	}
	workDir, err = filepath.Abs(workDir)
	if err != nil {
		return rootOptions{}, err
	}

	cfgPath, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return rootOptions{}, err
	}
	if cfgPath == "" {
		cfgPath = config.DefaultPath(workDir)
	} else if !filepath.IsAbs(cfgPath) {
		cfgPath = filepath.Join(workDir, cfgPath)
	}

	return rootOptions{WorkDir: workDir, Config: cfgPath}, nil
}

// addProbeFlags wires probe tuning flags shared by up and probe.
func addProbeFlags(flags *pflag.FlagSet) {
	flags.Int("probe-attempts", 0, "Max probe attempts (default from config)")
	flags.Duration("probe-delay", 0, "Delay between probe attempts (default from config)")
	flags.Duration("probe-timeout", 0, "Per-attempt timeout (default from config)")
}

func proberFromFlags(flags *pflag.FlagSet, cfg *config.File) (probe.Prober, error) {
	attempts, err := flags.GetInt("probe-attempts")
	if err != nil {
		return probe.Prober{}, err
	}
	delay, err := flags.GetDuration("probe-delay")
	if err != nil {
		return probe.Prober{}, err
	}
	timeout, err := flags.GetDuration("probe-timeout")
	if err != nil {
		return probe.Prober{}, err
	}

	p := probe.Prober{
		Attempts: cfg.Probe.Attempts,
		Delay:    cfg.Probe.Delay.Std(),
		Timeout:  cfg.Probe.Timeout.Std(),
	}
	if attempts > 0 {
		p.Attempts = attempts
	}
	if delay > 0 {
		p.Delay = delay
	}
	if timeout > 0 {
		p.Timeout = timeout
	}
	return p, nil
}

func graceFromFlags(flags *pflag.FlagSet, cfg *config.File) (time.Duration, error) {
	grace, err := flags.GetDuration("grace")
	if err != nil {
		return 0, err
	}
	if grace > 0 {
		return grace, nil
	}
	return cfg.Shutdown.Grace.Std(), nil
}
