// Package tracing sets up OpenTelemetry for the tour API and names the spans
// and attributes the tour records.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation scopes.
const (
	scopeTour     = "panotour"
	scopeDocstore = "panotour/docstore"
)

// Tour span attributes.
const (
	AttrScenarioID     = attribute.Key("tour.scenario_id")
	AttrSceneRequested = attribute.Key("tour.scene_requested")
	AttrEditMode       = attribute.Key("tour.edit_mode")
	AttrLoadOutcome    = attribute.Key("tour.load.outcome")
	AttrLoadMarkers    = attribute.Key("tour.load.markers")
	AttrLoadToken      = attribute.Key("tour.load.token")
)

// StoreOperation is the kind of document store call being traced.
type StoreOperation string

const (
	StoreOperationGet    StoreOperation = "get"
	StoreOperationFind   StoreOperation = "find"
	StoreOperationWrite  StoreOperation = "write"
	StoreOperationCommit StoreOperation = "commit" // atomic multi-document batch
)

// StartStoreSpan starts a client span named "<operation> <collection>".
// Call the returned function with the operation's error to end it.
func StartStoreSpan(ctx context.Context, collection string, operation StoreOperation) (context.Context, func(error)) {
	name := string(operation)
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "docstore"),
		attribute.String("db.operation", string(operation)),
	}
	if collection != "" {
		name += " " + collection
		attrs = append(attrs, attribute.String("db.collection.name", collection))
	}
	return start(ctx, scopeDocstore, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

// StartSpan starts an internal span. Call the returned function with the
// operation's error to end it.
func StartSpan(ctx context.Context, name string) (context.Context, func(error)) {
	return start(ctx, scopeTour, name)
}

// StartSceneLoad starts the span of one scene load.
func StartSceneLoad(ctx context.Context, scenarioID, sceneID string, edit bool) (context.Context, func(error)) {
	return start(ctx, scopeTour, "scene.load", trace.WithAttributes(
		AttrScenarioID.String(scenarioID),
		AttrSceneRequested.String(sceneID),
		AttrEditMode.Bool(edit),
	))
}

func start(ctx context.Context, scope, name string, opts ...trace.SpanStartOption) (context.Context, func(error)) {
	ctx, span := otel.Tracer(scope).Start(ctx, name, opts...)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// AddEvent adds an event to the span in ctx.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes sets attributes on the span in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
