/*
Package tracing provides lightweight request tracing on top of zap.

A trace follows a request from the HTTP layer into the session it starts:
the HTTP middleware opens the root span and each session start stage
(launch, ready, init, load, render) becomes a child span. Finished spans are
logged by a background collector.

# Usage

	tracer := tracing.New("remoteui", logger)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "operation")
	span.SetTag("key", "value")
	defer func() { tracer.End(span, err) }()

# Propagation

X-Trace-ID and X-Span-ID request headers continue an existing trace; the
response always carries the ids that were used.
*/
package tracing
