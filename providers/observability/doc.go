// Package observability defines the interfaces and semantic conventions the
// flow scheduler reports through.
//
// Two independent channels exist:
//
//   - [Provider] composes [Tracer], [Metrics] and [Logger]. A flow takes one
//     through its options or finds one on the context ([ContextWithObserver]).
//     The slogobs and otelobs sub-packages implement it.
//   - The process-wide event [Sink], installed once with [RegisterSink],
//     receives the ordered lifecycle stream of every run (flow started, node
//     started, node completed, ...). With no sink registered, [Emit] is a
//     no-op.
//
// semconv.go lists the attribute, span and metric names shared by both.
package observability
