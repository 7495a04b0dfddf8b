// Package flow composes nodes into a dependency graph and runs it.
//
// A [Flow] is built once with a [Builder] (or compiled from a workflow
// document with [Compile]) and can then be run any number of times. Each
// [Flow.Run] gets a fresh [ExecutionContext], drives a single scheduler loop
// and returns a [RunResult] with the terminal status, the final context
// snapshot and one [NodeOutcome] per node.
//
// # Scheduling
//
// A node is ready once all its dependencies have completed. Ready nodes are
// dispatched in lexical ID order. Sync nodes run inline and the scheduler
// waits for them; async nodes run on their own goroutines, at most
// WithMaxInFlight of them at a time. A node's result is written to the
// context under its output key before its dependents become ready, so
// dependents always observe their dependencies' writes.
//
// # Failures
//
// Under [FailFast] (default) the first failure fails the run: in-flight
// async nodes are cancelled through their context and every node not yet
// started is skipped with a DependencyFailed reason. Under [BestEffort]
// only the failed node's transitive dependents are skipped. Cancelling the
// run context cancels the run; a run timeout (WithRunTimeout) fails it with
// a Timeout error. Per-node timeouts and retry policies are node options.
//
// # Observability
//
// Lifecycle events go to the process-wide sink registered with
// observability.RegisterSink and to a per-flow sink (WithEventSink). Spans,
// metrics and logs go to the Provider given with WithObserver.
package flow
