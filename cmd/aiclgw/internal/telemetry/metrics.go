package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics installs a global MeterProvider backed by a Prometheus
// exporter and returns the handler serving the scrape endpoint.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return handler, provider.Shutdown, nil
}

// ServerMetrics holds metric instruments for HTTP server telemetry.
// Initialize once at server startup and reuse throughout the application lifecycle.
type ServerMetrics struct {
	RequestCounter  metric.Int64Counter     // Total HTTP requests
	RequestDuration metric.Float64Histogram // HTTP request latency
	ErrorCounter    metric.Int64Counter     // Total HTTP errors (5xx)
}

// NewServerMetrics creates a new ServerMetrics instance with pre-configured instruments.
func NewServerMetrics() (*ServerMetrics, error) {
	meter := otel.Meter("aiclgw/http")

	requestCounter, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"http.server.error.count",
		metric.WithDescription("Total number of HTTP server errors (5xx)"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &ServerMetrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		ErrorCounter:    errorCounter,
	}, nil
}

// RecordRequest records an HTTP request with method, route, status, and duration.
func (m *ServerMetrics) RecordRequest(ctx context.Context, method, route string, status int, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPRoute, route),
		attribute.Int(AttrHTTPStatusCode, status),
	)

	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, attrs)
	if status >= 500 {
		m.ErrorCounter.Add(ctx, 1, attrs)
	}
}

// AuthMetrics holds metric instruments for the authentication pipeline.
type AuthMetrics struct {
	Decisions    metric.Int64Counter // Stage outcomes
	AuthDuration metric.Float64Histogram
}

// NewAuthMetrics creates metric instruments for authentication telemetry.
func NewAuthMetrics() (*AuthMetrics, error) {
	meter := otel.Meter("aiclgw/auth")

	decisions, err := meter.Int64Counter(
		"auth.decision.count",
		metric.WithDescription("Authentication decisions by pipeline stage and outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	authDuration, err := meter.Float64Histogram(
		"auth.duration",
		metric.WithDescription("Authentication pipeline duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000),
	)
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{Decisions: decisions, AuthDuration: authDuration}, nil
}

// RecordDecision records one stage outcome such as "continue", "redirect"
// or an error category.
func (a *AuthMetrics) RecordDecision(ctx context.Context, stage, outcome string) {
	if a == nil {
		return
	}
	a.Decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAuthStage, stage),
		attribute.String(AttrAuthOutcome, outcome),
	))
}

// RecordDuration records the time spent in the whole pipeline.
func (a *AuthMetrics) RecordDuration(ctx context.Context, outcome string, durationMs float64) {
	if a == nil {
		return
	}
	a.AuthDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String(AttrAuthOutcome, outcome)))
}

// CacheMetrics counts directory cache events per namespace.
type CacheMetrics struct {
	Hits        metric.Int64Counter
	Misses      metric.Int64Counter
	FetchErrors metric.Int64Counter
}

// NewCacheMetrics creates the cache instruments.
func NewCacheMetrics() (*CacheMetrics, error) {
	meter := otel.Meter("aiclgw/cache")

	hits, err := meter.Int64Counter("directory.cache.hit.count",
		metric.WithDescription("Directory cache hits"), metric.WithUnit("{hit}"))
	if err != nil {
		return nil, err
	}
	misses, err := meter.Int64Counter("directory.cache.miss.count",
		metric.WithDescription("Directory cache misses"), metric.WithUnit("{miss}"))
	if err != nil {
		return nil, err
	}
	fetchErrors, err := meter.Int64Counter("directory.cache.fetch_error.count",
		metric.WithDescription("Failed upstream fetches"), metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}
	return &CacheMetrics{Hits: hits, Misses: misses, FetchErrors: fetchErrors}, nil
}

func namespaceAttr(namespace string) metric.AddOption {
	return metric.WithAttributes(attribute.String(AttrCacheNamespace, namespace))
}

// CacheHit implements cache.Observer.
func (c *CacheMetrics) CacheHit(namespace string) {
	c.Hits.Add(context.Background(), 1, namespaceAttr(namespace))
}

// CacheMiss implements cache.Observer.
func (c *CacheMetrics) CacheMiss(namespace string) {
	c.Misses.Add(context.Background(), 1, namespaceAttr(namespace))
}

// CacheFetchError implements cache.Observer.
func (c *CacheMetrics) CacheFetchError(namespace string) {
	c.FetchErrors.Add(context.Background(), 1, namespaceAttr(namespace))
}

// Common metric attribute keys
const (
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"
)
