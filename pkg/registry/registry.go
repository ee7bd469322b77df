// Package registry implements the proposal and connection registries.
//
// The two registries are independently owned components that share one
// store.Store. The proposal registry holds a Minter capability, wired once
// by the owner, and uses it to mint a connection pair inside the same
// transaction that marks a proposal Accepted. The connection registry holds
// the proposal registry's address and only lets that address (or the owner)
// mint.
package registry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
)

// Default addresses the registries present when calling each other.
const (
	DefaultProposalRegistryAddress   contracts.Identity = "soulbound:proposal-registry"
	DefaultConnectionRegistryAddress contracts.Identity = "soulbound:connection-registry"
)

const tracerName = "github.com/Mindburn-Labs/soulbound/pkg/registry"

// Option configures a registry.
type Option func(*options)

type options struct {
	address contracts.Identity
	clock   func() time.Time
	logger  *slog.Logger
	events  contracts.EventSink
	tracer  trace.Tracer
}

func defaultOptions(address contracts.Identity, component string) options {
	return options{
		address: address,
		clock:   time.Now,
		logger:  slog.Default().With("component", component),
		tracer:  otel.Tracer(tracerName),
	}
}

// WithAddress overrides the registry's own identity.
func WithAddress(addr contracts.Identity) Option {
	return func(o *options) { o.address = addr }
}

// WithClock overrides clock for testing.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEvents sets the sink that receives committed events.
func WithEvents(sink contracts.EventSink) Option {
	return func(o *options) { o.events = sink }
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

func (o *options) publish(ctx context.Context, evs ...contracts.Event) {
	if o.events == nil {
		return
	}
	for _, ev := range evs {
		o.events.Publish(ctx, ev)
	}
}

// span starts an operation span. The returned func ends it, marking typed
// rejections as span events and anything else as an error.
func (o *options) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		switch {
		case err == nil:
		case contracts.IsRejection(err):
			span.AddEvent("rejected", trace.WithAttributes(attribute.String("soulbound.error", contracts.Kind(err))))
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func idAttr(key string, id uint64) attribute.KeyValue {
	return attribute.Int64(key, int64(id))
}

func callerAttr(caller contracts.Identity) attribute.KeyValue {
	return attribute.String("soulbound.caller", string(caller))
}
