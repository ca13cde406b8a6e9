// Package observability wires OpenTelemetry metrics for the pipeline
package observability

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Options configures the meter provider
type Options struct {
	Enabled     bool
	ServiceName string
	ExportEvery time.Duration
}

// InitMeterProvider initializes an OTLP meter provider and installs it globally.
// When disabled it installs a no-op provider so instrument calls stay cheap.
// Endpoint and headers come from the standard OTEL_EXPORTER_OTLP_* env vars
func InitMeterProvider(ctx context.Context, opt Options) (*sdkmetric.MeterProvider, error) {
	if !opt.Enabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		return mp, nil
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(semconv.ServiceName(opt.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return nil, err
	}

	every := opt.ExportEvery
	if every <= 0 {
		every = 15 * time.Second
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(every),
		)),
	)
	otel.SetMeterProvider(mp)
	return mp, nil
}

// WatchMetrics bundles the watcher instrument set
type WatchMetrics struct {
	packages metric.Int64Counter
	failures metric.Int64Counter
	handler  metric.Float64Histogram

	seq      atomic.Int64
	totalSeq atomic.Int64
	queueLen atomic.Int64
}

// NewWatchMetrics registers the watcher instruments on the global meter
func NewWatchMetrics() (*WatchMetrics, error) {
	meter := otel.Meter("pkgsearch/watch")
	m := &WatchMetrics{}

	var err error
	if m.packages, err = meter.Int64Counter("watch.packages",
		metric.WithDescription("changes handed to the processing pipeline")); err != nil {
		return nil, err
	}
	if m.failures, err = meter.Int64Counter("watch.job_failures",
		metric.WithDescription("per-attempt job failures")); err != nil {
		return nil, err
	}
	if m.handler, err = meter.Float64Histogram("watch.handler_seconds",
		metric.WithDescription("per-job handler duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	seqGauge, err := meter.Int64ObservableGauge("watch.seq",
		metric.WithDescription("persisted checkpoint sequence"))
	if err != nil {
		return nil, err
	}
	totalGauge, err := meter.Int64ObservableGauge("watch.total_seq",
		metric.WithDescription("registry head sequence, best effort"))
	if err != nil {
		return nil, err
	}
	lenGauge, err := meter.Int64ObservableGauge("watch.queue_len",
		metric.WithDescription("jobs waiting in the ordered queue"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(seqGauge, m.seq.Load())
		o.ObserveInt64(totalGauge, m.totalSeq.Load())
		o.ObserveInt64(lenGauge, m.queueLen.Load())
		return nil
	}, seqGauge, totalGauge, lenGauge)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// IncPackages counts one change entering the pipeline
func (m *WatchMetrics) IncPackages(ctx context.Context) {
	if m == nil {
		return
	}
	m.packages.Add(ctx, 1)
}

// IncFailures counts one failed processing attempt
func (m *WatchMetrics) IncFailures(ctx context.Context) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1)
}

// ObserveHandler records one handler duration
func (m *WatchMetrics) ObserveHandler(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.handler.Record(ctx, d.Seconds())
}

// SetSeq updates the checkpoint gauge
func (m *WatchMetrics) SetSeq(v int64) {
	if m != nil {
		m.seq.Store(v)
	}
}

// SetTotalSeq updates the registry head gauge
func (m *WatchMetrics) SetTotalSeq(v int64) {
	if m != nil {
		m.totalSeq.Store(v)
	}
}

// SetQueueLen updates the queue length gauge
func (m *WatchMetrics) SetQueueLen(v int) {
	if m != nil {
		m.queueLen.Store(int64(v))
	}
}
