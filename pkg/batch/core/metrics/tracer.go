package metrics

import "context"

// Tracer is an abstract interface for distributed tracing of run transitions and writes.
type Tracer interface {
	// StartSpan starts a span named name as a child of the span in ctx.
	//
	// Returns: a context carrying the new span, and a function that ends it.
	StartSpan(ctx context.Context, name string, attributes map[string]interface{}) (context.Context, func())

	// RecordError records err on the current span.
	//
	// module: the component where the error occurred (e.g. "writer", "lifecycle").
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event on the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
