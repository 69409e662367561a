package launch

import (
	"fmt"
	"strings"
)

const (
	EnvResourceAttributes = "OTEL_RESOURCE_ATTRIBUTES"
	EnvExporterEndpoint   = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvExporterHeaders    = "OTEL_EXPORTER_OTLP_HEADERS"

	accessTokenHeader = "signoz-access-token"
)

// OTelEnv holds the telemetry export configuration handed to the child
// through its environment.
type OTelEnv struct {
	Endpoint       string
	AccessToken    string
	ServiceName    string
	ServiceVersion string
}

// Environ renders the OTEL_* variables. The headers variable is only
// present when a token was supplied; an empty header confuses some
// exporters.
func (e OTelEnv) Environ() map[string]string {
	out := map[string]string{
		EnvResourceAttributes: fmt.Sprintf("service.name=%s,service.version=%s", e.ServiceName, e.ServiceVersion),
		EnvExporterEndpoint:   e.Endpoint,
	}
	if e.AccessToken != "" {
		out[EnvExporterHeaders] = accessTokenHeader + "=" + e.AccessToken
	}
	return out
}

// IsLocalEndpoint reports whether the endpoint points at a stack on this
// machine. Localhost endpoints get the local monitoring stack managed for
// them; anything else is assumed externally operated.
func IsLocalEndpoint(endpoint string) bool {
	return strings.Contains(endpoint, "localhost")
}
