package exporters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"google.golang.org/grpc"
)

const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"

	defaultExportTimeout = 10 * time.Second
	userAgent            = "sr-event-management"
)

// OTLPConfig describes where rebuild and handler spans are shipped
type OTLPConfig struct {
	// Endpoint is host:port of the collector, 4317 for grpc and 4318 for http
	Endpoint string
	// Protocol is ProtocolGRPC (the default) or ProtocolHTTP
	Protocol string
	Insecure bool
	Headers  map[string]string
	Timeout  time.Duration
}

// ParseHeaders turns the OTLP_HEADERS value "k1=v1,k2=v2" into a map.
// Malformed pairs are skipped.
func ParseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		headers[k] = strings.TrimSpace(v)
	}
	return headers
}

// NewOTLPExporter builds a trace exporter for the configured protocol
func NewOTLPExporter(ctx context.Context, cfg OTLPConfig) (*otlptrace.Exporter, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultExportTimeout
	}

	var client otlptrace.Client
	switch strings.ToLower(cfg.Protocol) {
	case ProtocolGRPC, "":
		client = grpcClient(cfg, timeout)
	case ProtocolHTTP:
		client = httpClient(cfg, timeout)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", cfg.Protocol)
	}

	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s trace exporter for %s: %w", cfg.Protocol, cfg.Endpoint, err)
	}
	return exporter, nil
}

func grpcClient(cfg OTLPConfig, timeout time.Duration) otlptrace.Client {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(timeout),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(userAgent)),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.NewClient(opts...)
}

func httpClient(cfg OTLPConfig, timeout time.Duration) otlptrace.Client {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithTimeout(timeout),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	return otlptracehttp.NewClient(opts...)
}
