// Package observability provides the structured logger, Prometheus metrics
// and OpenTelemetry tracer used by the action loop.
//
// Logging is built on log/slog with secret redaction and correlation fields
// carried on the context (session, call and iteration). Metrics are
// registered on an injected prometheus.Registerer so tests can use isolated
// registries. Tracing exports over OTLP/gRPC when an endpoint is configured
// and is a no-op otherwise.
package observability
