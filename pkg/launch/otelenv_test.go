package launch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOTelEnviron_NoToken(t *testing.T) {
	e := OTelEnv{
		Endpoint:       "http://localhost:4317",
		ServiceName:    "xcart",
		ServiceVersion: "1.0.0",
	}
	env := e.Environ()
	require.Equal(t, "service.name=xcart,service.version=1.0.0", env[EnvResourceAttributes])
	require.Equal(t, "http://localhost:4317", env[EnvExporterEndpoint])
	_, ok := env[EnvExporterHeaders]
	require.False(t, ok, "headers variable must be absent without a token")
}

func TestOTelEnviron_TokenEmbeddedInHeader(t *testing.T) {
	e := OTelEnv{
		Endpoint:       "https://remote.example:443",
		AccessToken:    "mytoken123",
		ServiceName:    "xcart",
		ServiceVersion: "1.0.0",
	}
	env := e.Environ()
	require.Equal(t, "signoz-access-token=mytoken123", env[EnvExporterHeaders])
	require.Equal(t, "https://remote.example:443", env[EnvExporterEndpoint])
}

func TestIsLocalEndpoint(t *testing.T) {
	require.True(t, IsLocalEndpoint("http://localhost:4317"))
	require.True(t, IsLocalEndpoint("localhost:4317"))
	require.False(t, IsLocalEndpoint("https://remote.example:443"))
	require.False(t, IsLocalEndpoint("http://127.0.0.1:4317"))
}

func TestBuildEnviron_Precedence(t *testing.T) {
	base := []string{"PATH=/usr/bin", "API_DEBUG=0"}
	extra := map[string]string{"API_DEBUG": "1"}
	otel := OTelEnv{Endpoint: "http://localhost:4317", ServiceName: "svc", ServiceVersion: "dev"}

	env := BuildEnviron(base, extra, otel)

	// Later entries win for duplicate keys; the Spec env and OTEL exports
	// come after the inherited base.
	joined := strings.Join(env, "\n")
	require.Contains(t, joined, "API_DEBUG=1")
	require.Contains(t, joined, EnvExporterEndpoint+"=http://localhost:4317")
	require.Greater(t, strings.Index(joined, "API_DEBUG=1"), strings.Index(joined, "API_DEBUG=0"))
}
