package app

import (
	"context"
	"time"

	"codeclash-score-service/internal/domain"
	"codeclash-score-service/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("codeclash-score-service/app")

// Option customizes a service.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	now         func() time.Time
	notifier    Notifier
	metrics     *observability.Metrics
	defaultName string
}

func buildOptions(opts []Option) options {
	o := options{
		logger:      zap.NewNop(),
		now:         time.Now,
		notifier:    noopNotifier{},
		defaultName: "Student",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithNotifier routes change events; the default drops them.
func WithNotifier(n Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithMetrics enables prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDefaultName sets the display name used when no name can be resolved.
func WithDefaultName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.defaultName = name
		}
	}
}

// publish never fails the calling operation; the state change already happened.
func (o options) publish(ctx context.Context, ev domain.ChangeEvent) {
	if err := o.notifier.Publish(ctx, ev); err != nil {
		o.logger.Warn("publish change event failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("topic", ev.Topic()),
			zap.Error(err))
	}
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
