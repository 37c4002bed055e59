package mediastore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/quillchat/mediastore"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the service.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	insertLatency metric.Float64Histogram
	insertCount   metric.Int64Counter
	insertErrors  metric.Int64Counter

	receiptLatency metric.Float64Histogram
	receiptCount   metric.Int64Counter
	receiptCached  metric.Int64Counter
	receiptErrors  metric.Int64Counter

	mutateLatency metric.Float64Histogram
	mutateCount   metric.Int64Counter
	mutateErrors  metric.Int64Counter

	deleteLatency metric.Float64Histogram
	deleteCount   metric.Int64Counter
	deleteErrors  metric.Int64Counter

	readLatency metric.Float64Histogram
	readCount   metric.Int64Counter
	readErrors  metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	o.insertLatency, err = meter.Float64Histogram(
		"mediastore.insert.duration",
		metric.WithDescription("Duration of message insert operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.insertCount, err = meter.Int64Counter(
		"mediastore.insert.count",
		metric.WithDescription("Number of message inserts"),
	)
	if err != nil {
		return err
	}

	o.insertErrors, err = meter.Int64Counter(
		"mediastore.insert.errors",
		metric.WithDescription("Number of insert errors"),
	)
	if err != nil {
		return err
	}

	o.receiptLatency, err = meter.Float64Histogram(
		"mediastore.receipt.duration",
		metric.WithDescription("Duration of receipt reconciliation operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.receiptCount, err = meter.Int64Counter(
		"mediastore.receipt.count",
		metric.WithDescription("Number of receipt acknowledgements processed"),
	)
	if err != nil {
		return err
	}

	o.receiptCached, err = meter.Int64Counter(
		"mediastore.receipt.cached",
		metric.WithDescription("Number of receipts parked in the early receipt cache"),
	)
	if err != nil {
		return err
	}

	o.receiptErrors, err = meter.Int64Counter(
		"mediastore.receipt.errors",
		metric.WithDescription("Number of receipt errors"),
	)
	if err != nil {
		return err
	}

	o.mutateLatency, err = meter.Float64Histogram(
		"mediastore.mutate.duration",
		metric.WithDescription("Duration of status/bitmask mutations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.mutateCount, err = meter.Int64Counter(
		"mediastore.mutate.count",
		metric.WithDescription("Number of status/bitmask mutations"),
	)
	if err != nil {
		return err
	}

	o.mutateErrors, err = meter.Int64Counter(
		"mediastore.mutate.errors",
		metric.WithDescription("Number of mutation errors"),
	)
	if err != nil {
		return err
	}

	o.deleteLatency, err = meter.Float64Histogram(
		"mediastore.delete.duration",
		metric.WithDescription("Duration of delete operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.deleteCount, err = meter.Int64Counter(
		"mediastore.delete.count",
		metric.WithDescription("Number of delete operations"),
	)
	if err != nil {
		return err
	}

	o.deleteErrors, err = meter.Int64Counter(
		"mediastore.delete.errors",
		metric.WithDescription("Number of delete errors"),
	)
	if err != nil {
		return err
	}

	o.readLatency, err = meter.Float64Histogram(
		"mediastore.read.duration",
		metric.WithDescription("Duration of record decode operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.readCount, err = meter.Int64Counter(
		"mediastore.read.count",
		metric.WithDescription("Number of record decodes"),
	)
	if err != nil {
		return err
	}

	o.readErrors, err = meter.Int64Counter(
		"mediastore.read.errors",
		metric.WithDescription("Number of read errors"),
	)
	if err != nil {
		return err
	}

	return nil
}

// startSpan starts a new span if tracing is enabled.
// Caller must invoke the returned func with the operation's error.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordInsert records insert operation metrics.
func (o *otelInstrumentation) recordInsert(ctx context.Context, duration time.Duration, direction string, attachmentCount int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.Int("attachment_count", attachmentCount),
	)

	o.insertLatency.Record(ctx, duration.Seconds(), attrs)
	o.insertCount.Add(ctx, 1, attrs)
	if err != nil {
		o.insertErrors.Add(ctx, 1, attrs)
	}
}

// recordReceipt records receipt reconciliation metrics. cached reports
// whether the acknowledgement was parked in the early receipt cache.
func (o *otelInstrumentation) recordReceipt(ctx context.Context, duration time.Duration, kind string, cached bool, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
	)

	o.receiptLatency.Record(ctx, duration.Seconds(), attrs)
	o.receiptCount.Add(ctx, 1, attrs)
	if cached {
		o.receiptCached.Add(ctx, 1, attrs)
	}
	if err != nil {
		o.receiptErrors.Add(ctx, 1, attrs)
	}
}

// recordMutate records bitmask/status mutation metrics.
func (o *otelInstrumentation) recordMutate(ctx context.Context, duration time.Duration, operation string, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
	)

	o.mutateLatency.Record(ctx, duration.Seconds(), attrs)
	o.mutateCount.Add(ctx, 1, attrs)
	if err != nil {
		o.mutateErrors.Add(ctx, 1, attrs)
	}
}

// recordDelete records delete operation metrics.
func (o *otelInstrumentation) recordDelete(ctx context.Context, duration time.Duration, scope string, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("scope", scope),
	)

	o.deleteLatency.Record(ctx, duration.Seconds(), attrs)
	o.deleteCount.Add(ctx, 1, attrs)
	if err != nil {
		o.deleteErrors.Add(ctx, 1, attrs)
	}
}

// recordRead records record decode metrics.
func (o *otelInstrumentation) recordRead(ctx context.Context, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}

	o.readLatency.Record(ctx, duration.Seconds())
	o.readCount.Add(ctx, 1)
	if err != nil {
		o.readErrors.Add(ctx, 1)
	}
}
