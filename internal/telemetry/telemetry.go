package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	goruntime "runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds the instruments used during a sweep. A nil *Telemetry, or one
// built with Enabled=false, records nothing.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	exporter       *prometheus.Exporter

	// HTTP server (metrics endpoint)
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Remote store
	storeOperationsTotal metric.Int64Counter
	storeErrors          metric.Int64Counter
	probeStatusTotal     metric.Int64Counter
	probesTotal          metric.Int64Counter

	// Downloads
	downloadsTotal   metric.Int64Counter
	downloadsActive  metric.Int64UpDownCounter
	downloadDuration metric.Float64Histogram
	downloadBytes    metric.Int64Counter
	matchesTotal     metric.Int64Counter
	indexRebuilds    metric.Int64Counter
	indexedRounds    metric.Int64Gauge

	// Process
	memoryUsage    metric.Int64Gauge
	goroutineCount metric.Int64Gauge
	systemUptime   metric.Float64Gauge
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// OTLPEndpoint, when set, pushes metrics over OTLP/gRPC in addition to the
	// Prometheus endpoint.
	OTLPEndpoint string
	OTLPInterval time.Duration
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry resource: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithReader(exporter), sdkmetric.WithResource(res)}

	if cfg.OTLPEndpoint != "" {
		otlp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		interval := cfg.OTLPInterval
		if interval <= 0 {
			interval = 15 * time.Second
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlp, sdkmetric.WithInterval(interval))))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(meterProvider)

	// Spans are not exported; they give log records a trace and span id.
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tracerProvider)

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(cfg.ServiceName),
		meter:          meterProvider.Meter(cfg.ServiceName, metric.WithInstrumentationVersion(cfg.ServiceVersion)),
		exporter:       exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	go t.collectSystemMetrics(ctx)

	return t, nil
}

// RecordHTTPRequest records a request served by the metrics server.
func (t *Telemetry) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if t == nil || t.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", statusClass(status)),
	)

	t.httpRequestsTotal.Add(ctx, 1, attrs)
	t.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordStoreOperation records a call against the remote store.
func (t *Telemetry) RecordStoreOperation(ctx context.Context, operation, status string) {
	if t == nil || t.storeOperationsTotal == nil {
		return
	}

	t.storeOperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))

	if status == "error" {
		t.storeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
	}
}

// RecordProbeStatus records the raw status code answered to a HEAD request.
func (t *Telemetry) RecordProbeStatus(status int) {
	if t == nil || t.probeStatusTotal == nil {
		return
	}

	t.probeStatusTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("code", strconv.Itoa(status))))
}

// RecordProbe records the final outcome of an existence check.
func (t *Telemetry) RecordProbe(ctx context.Context, result string) {
	if t == nil || t.probesTotal == nil {
		return
	}

	t.probesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordDownload records the outcome of one task.
func (t *Telemetry) RecordDownload(ctx context.Context, status string, duration time.Duration, bytes int64) {
	if t == nil || t.downloadsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	t.downloadsTotal.Add(ctx, 1, attrs)
	t.downloadDuration.Record(ctx, duration.Seconds(), attrs)

	if bytes > 0 {
		t.downloadBytes.Add(ctx, bytes)
	}
}

// RecordMatch records how a match was handled by the orchestrator.
func (t *Telemetry) RecordMatch(ctx context.Context, outcome string) {
	if t == nil || t.matchesTotal == nil {
		return
	}

	t.matchesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordIndexRebuild records a catalog rebuild and the number of rounds it holds.
func (t *Telemetry) RecordIndexRebuild(ctx context.Context, status string, rounds int) {
	if t == nil || t.indexRebuilds == nil {
		return
	}

	t.indexRebuilds.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))

	if status == "success" {
		t.indexedRounds.Record(ctx, int64(rounds))
	}
}

func (t *Telemetry) incrementActiveDownloads(ctx context.Context) {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(ctx, 1)
	}
}

func (t *Telemetry) decrementActiveDownloads(ctx context.Context) {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(ctx, -1)
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown stops the tracer provider and flushes the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}

	if err := t.tracerProvider.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.meterProvider.Shutdown(ctx); err != nil && !errors.Is(err, sdkmetric.ErrReaderShutdown) {
		return err
	}

	return nil
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&t.httpRequestsTotal, "http_requests_total", "Total number of HTTP requests served", "1"},
		{&t.storeOperationsTotal, "store_operations_total", "Total number of remote store requests", "1"},
		{&t.storeErrors, "store_errors_total", "Total number of failed remote store requests", "1"},
		{&t.probeStatusTotal, "probe_status_total", "HEAD responses by status code", "1"},
		{&t.probesTotal, "probes_total", "Existence checks by final result", "1"},
		{&t.downloadsTotal, "downloads_total", "Total number of round downloads", "1"},
		{&t.downloadBytes, "download_bytes_total", "Uncompressed bytes downloaded", "By"},
		{&t.matchesTotal, "matches_total", "Matches visited by outcome", "1"},
		{&t.indexRebuilds, "index_rebuilds_total", "Catalog rebuilds", "1"},
	}

	for _, c := range counters {
		*c.dst, err = t.meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	t.downloadDuration, err = t.meter.Float64Histogram(
		"download_duration_seconds",
		metric.WithDescription("Round download duration in seconds, retries included"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_duration histogram: %w", err)
	}

	t.downloadsActive, err = t.meter.Int64UpDownCounter(
		"downloads_active",
		metric.WithDescription("Number of downloads in flight"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create downloads_active counter: %w", err)
	}

	gauges := []struct {
		dst  *metric.Int64Gauge
		name string
		desc string
		unit string
	}{
		{&t.indexedRounds, "indexed_rounds", "Rounds recorded by the last catalog rebuild", "1"},
		{&t.memoryUsage, "memory_usage_bytes", "Memory usage in bytes", "By"},
		{&t.goroutineCount, "goroutine_count", "Number of goroutines", "1"},
	}

	for _, g := range gauges {
		*g.dst, err = t.meter.Int64Gauge(g.name, metric.WithDescription(g.desc), metric.WithUnit(g.unit))
		if err != nil {
			return fmt.Errorf("failed to create %s gauge: %w", g.name, err)
		}
	}

	t.systemUptime, err = t.meter.Float64Gauge(
		"system_uptime_seconds",
		metric.WithDescription("System uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_uptime gauge: %w", err)
	}

	return nil
}

// collectSystemMetrics collects process metrics until ctx is done.
func (t *Telemetry) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var m goruntime.MemStats
			goruntime.ReadMemStats(&m)

			t.memoryUsage.Record(ctx, int64(m.Alloc))
			t.goroutineCount.Record(ctx, int64(goruntime.NumGoroutine()))
			t.systemUptime.Record(ctx, time.Since(startTime).Seconds())
		}
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}
