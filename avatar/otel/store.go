// Package otel provides OpenTelemetry instrumentation for avatar stores.
package otel

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kmehta/courier/avatar"
)

const instrumentationName = "github.com/kmehta/courier/avatar/otel"

// Store wraps an avatar.Store with OpenTelemetry instrumentation.
type Store struct {
	backend avatar.Store
	opts    *options

	tracer trace.Tracer

	uploadLatency metric.Float64Histogram
	uploadCount   metric.Int64Counter
	uploadBytes   metric.Int64Counter
	uploadErrors  metric.Int64Counter
	loadLatency   metric.Float64Histogram
	loadCount     metric.Int64Counter
	loadBytes     metric.Int64Counter
	loadErrors    metric.Int64Counter
	deleteLatency metric.Float64Histogram
	deleteCount   metric.Int64Counter
	deleteErrors  metric.Int64Counter
}

var _ avatar.Store = (*Store)(nil)

// New creates an instrumented avatar store wrapping the given backend.
func New(backend avatar.Store, opts ...Option) (*Store, error) {
	o := &options{
		tracingEnabled: true,
		metricsEnabled: true,
		serviceName:    "courier",
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Store{
		backend: backend,
		opts:    o,
	}

	if o.tracingEnabled {
		s.tracer = o.tracerProvider.Tracer(instrumentationName)
	}
	if o.metricsEnabled {
		if err := s.initMetrics(o.meterProvider); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}

	return s, nil
}

func (s *Store) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	s.uploadLatency, err = meter.Float64Histogram(
		"avatar.upload.duration",
		metric.WithDescription("Duration of avatar upload operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	s.uploadCount, err = meter.Int64Counter(
		"avatar.upload.count",
		metric.WithDescription("Number of avatar upload operations"),
	)
	if err != nil {
		return err
	}
	s.uploadBytes, err = meter.Int64Counter(
		"avatar.upload.bytes",
		metric.WithDescription("Total bytes uploaded"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}
	s.uploadErrors, err = meter.Int64Counter(
		"avatar.upload.errors",
		metric.WithDescription("Number of upload errors"),
	)
	if err != nil {
		return err
	}

	s.loadLatency, err = meter.Float64Histogram(
		"avatar.load.duration",
		metric.WithDescription("Duration of avatar load operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	s.loadCount, err = meter.Int64Counter(
		"avatar.load.count",
		metric.WithDescription("Number of avatar load operations"),
	)
	if err != nil {
		return err
	}
	s.loadBytes, err = meter.Int64Counter(
		"avatar.load.bytes",
		metric.WithDescription("Total bytes loaded"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}
	s.loadErrors, err = meter.Int64Counter(
		"avatar.load.errors",
		metric.WithDescription("Number of load errors"),
	)
	if err != nil {
		return err
	}

	s.deleteLatency, err = meter.Float64Histogram(
		"avatar.delete.duration",
		metric.WithDescription("Duration of avatar delete operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	s.deleteCount, err = meter.Int64Counter(
		"avatar.delete.count",
		metric.WithDescription("Number of avatar delete operations"),
	)
	if err != nil {
		return err
	}
	s.deleteErrors, err = meter.Int64Counter(
		"avatar.delete.errors",
		metric.WithDescription("Number of delete errors"),
	)
	return err
}

// Upload stores the avatar with tracing and metrics.
func (s *Store) Upload(ctx context.Context, filename, contentType string, content io.Reader) (string, error) {
	attrs := []attribute.KeyValue{
		attribute.String("avatar.filename", filename),
		attribute.String("avatar.content_type", contentType),
		attribute.String("service.name", s.opts.serviceName),
	}

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "avatar.upload",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()
	}

	start := time.Now()
	counting := &countingReader{reader: content}
	uri, err := s.backend.Upload(ctx, filename, contentType, counting)
	duration := time.Since(start).Seconds()

	if s.opts.metricsEnabled {
		metricAttrs := metric.WithAttributes(attrs...)
		s.uploadLatency.Record(ctx, duration, metricAttrs)
		s.uploadCount.Add(ctx, 1, metricAttrs)
		s.uploadBytes.Add(ctx, counting.bytes, metricAttrs)
		if err != nil {
			s.uploadErrors.Add(ctx, 1, metricAttrs)
		}
	}

	if s.tracer != nil {
		span := trace.SpanFromContext(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.String("avatar.uri", uri),
				attribute.Int64("avatar.bytes", counting.bytes),
			)
			span.SetStatus(codes.Ok, "")
		}
	}

	return uri, err
}

// Load returns the avatar content with tracing and metrics.
// The load span ends when the returned reader is closed, so it covers the
// full streamed download, not just the initial request.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	attrs := []attribute.KeyValue{
		attribute.String("avatar.uri", uri),
		attribute.String("service.name", s.opts.serviceName),
	}

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "avatar.load",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
	}

	start := time.Now()
	reader, err := s.backend.Load(ctx, uri)
	duration := time.Since(start).Seconds()

	if s.opts.metricsEnabled {
		metricAttrs := metric.WithAttributes(attrs...)
		s.loadLatency.Record(ctx, duration, metricAttrs)
		s.loadCount.Add(ctx, 1, metricAttrs)
		if err != nil {
			s.loadErrors.Add(ctx, 1, metricAttrs)
		}
	}

	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
		}
		return nil, err
	}

	return &instrumentedReader{
		reader: reader,
		span:   span,
		store:  s,
		ctx:    ctx,
		attrs:  attrs,
	}, nil
}

// Delete removes the avatar with tracing and metrics.
func (s *Store) Delete(ctx context.Context, uri string) error {
	attrs := []attribute.KeyValue{
		attribute.String("avatar.uri", uri),
		attribute.String("service.name", s.opts.serviceName),
	}

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "avatar.delete",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()
	}

	start := time.Now()
	err := s.backend.Delete(ctx, uri)
	duration := time.Since(start).Seconds()

	if s.opts.metricsEnabled {
		metricAttrs := metric.WithAttributes(attrs...)
		s.deleteLatency.Record(ctx, duration, metricAttrs)
		s.deleteCount.Add(ctx, 1, metricAttrs)
		if err != nil {
			s.deleteErrors.Add(ctx, 1, metricAttrs)
		}
	}

	if s.tracer != nil {
		span := trace.SpanFromContext(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	return err
}

// countingReader counts bytes read through it.
type countingReader struct {
	reader io.Reader
	bytes  int64
}

func (r *countingReader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	r.bytes += int64(n)
	return n, err
}

// instrumentedReader tracks streamed bytes and ends the load span on close.
type instrumentedReader struct {
	reader io.ReadCloser
	span   trace.Span
	store  *Store
	ctx    context.Context
	attrs  []attribute.KeyValue
	bytes  int64
	closed bool
}

func (r *instrumentedReader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	r.bytes += int64(n)
	return n, err
}

func (r *instrumentedReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.reader.Close()

	if r.store.opts.metricsEnabled {
		r.store.loadBytes.Add(r.ctx, r.bytes, metric.WithAttributes(r.attrs...))
	}

	if r.span != nil {
		r.span.SetAttributes(attribute.Int64("avatar.bytes", r.bytes))
		if err != nil {
			r.span.RecordError(err)
			r.span.SetStatus(codes.Error, err.Error())
		} else {
			r.span.SetStatus(codes.Ok, "")
		}
		r.span.End()
	}

	return err
}
