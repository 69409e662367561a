package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadOptional_MissingFileGivesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadOptional(DefaultPath(dir))
	require.NoError(t, err)
	require.Equal(t, "xcart", cfg.Service.Name)
	require.Equal(t, DefaultDashboardURL, cfg.Stack.DashboardURL)
	require.Equal(t, 30, cfg.Probe.Attempts)
	require.Equal(t, 2*time.Second, cfg.Probe.Delay.Std())
	require.Equal(t, 5*time.Second, cfg.Shutdown.Grace.Std())
	require.Equal(t, "localhost:4317", cfg.CollectorAddr())
}

func TestLoadFromFile_OverridesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFilename)
	yaml := `
service:
  name: myapi
  command: ["python", "-m", "myapi"]
  env:
    API_DEBUG: "1"
probe:
  attempts: 5
  timeout: 250ms
shutdown:
  grace: 1s
stack:
  start: ["true"]
  stop: ["true"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "myapi", cfg.Service.Name)
	require.Equal(t, 5, cfg.Probe.Attempts)
	// Unset fields fall back to defaults.
	require.Equal(t, "dev", cfg.Service.Version)
	require.Equal(t, 2*time.Second, cfg.Probe.Delay.Std())
	require.Equal(t, 250*time.Millisecond, cfg.Probe.Timeout.Std())
	require.Equal(t, time.Second, cfg.Shutdown.Grace.Std())
	require.Equal(t, "1", cfg.Service.Env["API_DEBUG"])
}

func TestValidateRejectsBrokenConfig(t *testing.T) {
	cfg := Default()
	cfg.Service.Command = nil
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Service.Name = ""
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Probe.Attempts = 0
	require.Error(t, cfg.Validate())
}
