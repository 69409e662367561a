package state

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRemoveRoundtrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "otelrun-state-test-*")
	require.NoError(t, err)
	defer func() { _ = os.RemoveAll(dir) }()

	require.False(t, Exists(dir))

	r := &Run{
		WorkDir:   dir,
		Endpoint:  "http://localhost:4317",
		CreatedAt: time.Now(),
		Service: ServiceRecord{
			Name:    "api",
			PID:     1234,
			Command: []string{"uvicorn", "app.main:app"},
		},
		Stack: StackRecord{StartedByUs: true, DashboardURL: "http://localhost:3301"},
	}
	require.NoError(t, Save(dir, r))
	require.True(t, Exists(dir))

	got, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "api", got.Service.Name)
	require.True(t, got.Stack.StartedByUs)

	require.NoError(t, Remove(dir))
	require.False(t, Exists(dir))
	// Removing twice is fine.
	require.NoError(t, Remove(dir))
}

func TestSanitizeEnvRedactsSensitiveKeys(t *testing.T) {
	env := map[string]string{
		"OTEL_EXPORTER_OTLP_ENDPOINT": "http://localhost:4317",
		"OTEL_EXPORTER_OTLP_HEADERS":  "signoz-access-token=abc",
		"API_DEBUG":                   "1",
		"DB_PASSWORD":                 "hunter2",
	}
	out := SanitizeEnv(env)
	require.Equal(t, "http://localhost:4317", out["OTEL_EXPORTER_OTLP_ENDPOINT"])
	require.Equal(t, "[REDACTED]", out["OTEL_EXPORTER_OTLP_HEADERS"])
	require.Equal(t, "[REDACTED]", out["DB_PASSWORD"])
	require.Equal(t, "1", out["API_DEBUG"])
}

func TestProcessAlive(t *testing.T) {
	require.True(t, ProcessAlive(os.Getpid()))
	require.False(t, ProcessAlive(0))
	require.False(t, ProcessAlive(-1))
}
