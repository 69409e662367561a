// Package telemetry emits the XCart metric set over OTLP. It exists so a
// run can be verified end to end: point it at the collector the service
// exports to and watch the same instruments arrive on the dashboard.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
)

const accessTokenHeader = "signoz-access-token"

type Config struct {
	Endpoint       string
	AccessToken    string
	ServiceName    string
	ServiceVersion string
	ExportInterval time.Duration
}

// Instruments is the metric set the wrapped API reports; the smoke test
// emits the same shapes.
type Instruments struct {
	RequestsTotal     metric.Int64Counter
	ErrorsTotal       metric.Int64Counter
	RequestDurationMs metric.Float64Histogram
	CartItemsTotal    metric.Int64UpDownCounter
	OrderTotalAmount  metric.Float64Counter
	ActiveUsers       metric.Int64UpDownCounter
}

// Setup builds the OTLP gRPC metric pipeline and returns the instrument
// set plus a shutdown func that flushes pending points.
func Setup(ctx context.Context, cfg Config) (*Instruments, func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		return nil, nil, errors.New("missing service name")
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "dev"
	}
	if cfg.ExportInterval <= 0 {
		cfg.ExportInterval = time.Second
	}

	hostport, insecure, err := ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, nil, err
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(hostport)}
	if insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	} else {
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	if cfg.AccessToken != "" {
		opts = append(opts, otlpmetricgrpc.WithHeaders(map[string]string{accessTokenHeader: cfg.AccessToken}))
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create otlp metric exporter")
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.ExportInterval))),
	)

	insts, err := NewInstruments(provider.Meter("otelrun"), cfg.ServiceName)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, nil, err
	}
	return insts, provider.Shutdown, nil
}

// ParseEndpoint turns an endpoint URL (or bare host:port) into the gRPC
// target and decides transport security: localhost and plain-http
// endpoints go insecure, everything else uses TLS.
func ParseEndpoint(endpoint string) (hostport string, insecure bool, err error) {
	if endpoint == "" {
		return "", false, errors.New("missing endpoint")
	}

	target := endpoint
	scheme := ""
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return "", false, errors.Wrapf(err, "parse endpoint %q", endpoint)
		}
		scheme = u.Scheme
		target = u.Host
	}
	if target == "" {
		return "", false, errors.Errorf("endpoint %q has no host", endpoint)
	}
	if !strings.Contains(target, ":") {
		target += ":4317"
	}

	insecure = scheme == "http" || strings.Contains(target, "localhost")
	return target, insecure, nil
}

func NewInstruments(meter metric.Meter, serviceName string) (*Instruments, error) {
	name := func(suffix string) string { return fmt.Sprintf("%s_%s", serviceName, suffix) }

	requests, err := meter.Int64Counter(name("http_requests_total"),
		metric.WithDescription("Total HTTP requests"))
	if err != nil {
		return nil, errors.Wrap(err, "create requests counter")
	}
	errorsTotal, err := meter.Int64Counter(name("http_errors_total"),
		metric.WithDescription("Total HTTP error responses"))
	if err != nil {
		return nil, errors.Wrap(err, "create errors counter")
	}
	duration, err := meter.Float64Histogram(name("http_request_duration_ms"),
		metric.WithDescription("HTTP request duration"), metric.WithUnit("ms"))
	if err != nil {
		return nil, errors.Wrap(err, "create duration histogram")
	}
	cartItems, err := meter.Int64UpDownCounter(name("cart_items_total"),
		metric.WithDescription("Items currently in carts"))
	if err != nil {
		return nil, errors.Wrap(err, "create cart counter")
	}
	orderAmount, err := meter.Float64Counter(name("order_total_amount"),
		metric.WithDescription("Cumulative order value"), metric.WithUnit("usd"))
	if err != nil {
		return nil, errors.Wrap(err, "create order counter")
	}
	activeUsers, err := meter.Int64UpDownCounter(name("active_users"),
		metric.WithDescription("Users currently logged in"))
	if err != nil {
		return nil, errors.Wrap(err, "create active users counter")
	}

	return &Instruments{
		RequestsTotal:     requests,
		ErrorsTotal:       errorsTotal,
		RequestDurationMs: duration,
		CartItemsTotal:    cartItems,
		OrderTotalAmount:  orderAmount,
		ActiveUsers:       activeUsers,
	}, nil
}

func (i *Instruments) TrackRequest(ctx context.Context, method, path string, status int, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)
	i.RequestsTotal.Add(ctx, 1, attrs)
	i.RequestDurationMs.Record(ctx, durationMs, attrs)
	if status >= 400 {
		i.ErrorsTotal.Add(ctx, 1, attrs)
	}
}

func (i *Instruments) TrackCartUpdate(ctx context.Context, user string, delta int64) {
	i.CartItemsTotal.Add(ctx, delta, metric.WithAttributes(attribute.String("user", user)))
}

func (i *Instruments) TrackOrder(ctx context.Context, user string, amount float64) {
	i.OrderTotalAmount.Add(ctx, amount, metric.WithAttributes(attribute.String("user", user)))
}

func (i *Instruments) TrackUserActivity(ctx context.Context, user string, active bool) {
	delta := int64(1)
	if !active {
		delta = -1
	}
	i.ActiveUsers.Add(ctx, delta, metric.WithAttributes(attribute.String("user", user)))
}
