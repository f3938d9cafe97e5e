// Package tracing wires OpenTelemetry into the binaries.
//
// Setup installs an SDK tracer provider and the W3C propagator, GetTracer
// returns the application tracer, and Middleware starts one server span
// per HTTP request.
//
//	shutdown, err := tracing.Setup(ctx, tracing.Config{ServiceName: "integration-hub-api", SampleRatio: 1})
//	defer shutdown(context.Background())
package tracing
