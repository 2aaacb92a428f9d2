// Package tracer implements the framework's Tracer Adapter contract
// (component C8): span lifecycle, baggage propagated via context, carrier
// inject/extract, and a parameter-expression decorator for handlers.
package tracer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Carrier is a string map view over a request/response header set, used as
// the inject/extract target (format "http_headers" per spec default).
type Carrier map[string]string

func (c Carrier) Get(key string) string       { return c[key] }
func (c Carrier) Set(key, value string)       { c[key] = value }
func (c Carrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Span is the subset of span operations exposed to callers: set a tag, log
// a structured event, mark an error, and close.
type Span interface {
	SetTag(key string, value any)
	LogKV(fields map[string]any)
	SetError(err error)
	End()
}

// Adapter is the Tracer Adapter contract.
type Adapter interface {
	// StartSpan opens a span as a child of the context's active span (or a
	// new root if none, or if ignoreActive is set).
	StartSpan(ctx context.Context, name string, ignoreActive bool) (context.Context, Span)

	// ActiveSpan returns the span carried by ctx, or nil.
	ActiveSpan(ctx context.Context) Span

	// SetBaggage returns a context carrying an added/updated baggage item;
	// values are always string-coerced by the caller before this call.
	SetBaggage(ctx context.Context, key, value string) context.Context

	// Baggage returns every baggage item visible on ctx.
	Baggage(ctx context.Context) map[string]string

	// Inject writes the span context carried by ctx into carrier.
	Inject(ctx context.Context, carrier Carrier)

	// Extract reads a span context out of carrier, returning a context a
	// new span can be made a child of via StartSpan.
	Extract(ctx context.Context, carrier Carrier) context.Context

	// Close flushes and shuts down the underlying tracer implementation.
	Close(ctx context.Context) error
}

// Config configures the default otel-backed Adapter.
type Config struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	Version     string
	Environment string
	SampleRate  float64
}

// Otel is the default Tracer Adapter implementation, backed by
// go.opentelemetry.io/otel with an OTLP/gRPC exporter.
type Otel struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
	prop   propagation.TextMapPropagator
}

// NewOtel builds the default Tracer Adapter. When cfg.Enabled is false, a
// tracer that samples nothing is used (spans carry valid ids but are never
// recorded or exported) so the rest of the framework can depend on the
// adapter unconditionally.
func NewOtel(ctx context.Context, cfg Config) (*Otel, error) {
	prop := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})

	if !cfg.Enabled {
		noop := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		return &Otel{tracer: noop.Tracer(cfg.ServiceName), prop: prop}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	return &Otel{tp: tp, tracer: tp.Tracer(cfg.ServiceName), prop: prop}, nil
}

func (o *Otel) StartSpan(ctx context.Context, name string, ignoreActive bool) (context.Context, Span) {
	if ignoreActive {
		ctx = trace.ContextWithSpan(ctx, trace.SpanFromContext(context.Background()))
	}
	childCtx, span := o.tracer.Start(ctx, name)
	return childCtx, &otelSpan{span: span}
}

func (o *Otel) ActiveSpan(ctx context.Context) Span {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	return &otelSpan{span: span}
}

func (o *Otel) SetBaggage(ctx context.Context, key, value string) context.Context {
	member, err := baggage.NewMember(key, value)
	if err != nil {
		return ctx
	}
	bag := baggage.FromContext(ctx)
	bag, err = bag.SetMember(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

func (o *Otel) Baggage(ctx context.Context) map[string]string {
	bag := baggage.FromContext(ctx)
	out := make(map[string]string, len(bag.Members()))
	for _, m := range bag.Members() {
		out[m.Key()] = m.Value()
	}
	return out
}

func (o *Otel) Inject(ctx context.Context, carrier Carrier) {
	o.prop.Inject(ctx, carrier)
}

func (o *Otel) Extract(ctx context.Context, carrier Carrier) context.Context {
	return o.prop.Extract(ctx, carrier)
}

func (o *Otel) Close(ctx context.Context) error {
	if o.tp != nil {
		return o.tp.Shutdown(ctx)
	}
	return nil
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) SetTag(key string, value any) {
	s.span.SetAttributes(toAttribute(key, value))
}

func (s *otelSpan) LogKV(fields map[string]any) {
	attrs := make([]attribute.KeyValue, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, toAttribute(k, v))
	}
	s.span.AddEvent("log", trace.WithAttributes(attrs...))
}

func (s *otelSpan) SetError(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() {
	s.span.End()
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case error:
		return attribute.String(key, v.Error())
	default:
		return attribute.String(key, stringify(v))
	}
}
