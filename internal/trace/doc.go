// Package trace provides the structured event log of the fuzz harness.
//
// Every entry point call, code generation pass and mutation step can emit
// events. Events are written to a stream, kept in an in-memory ring for
// crash dumps, or both.
//
// # Usage
//
//	iselfuzz run --trace=run.ndjson --trace-level=detail -- -mtriple=x86_64-linux-gnu
//
// # Architecture
//
//   - Nop: zero-overhead tracer when disabled
//   - StreamTracer: immediate write to a file or stderr
//   - RingTracer: circular buffer dumped by the fatal error handler
//   - MultiTracer: fan-out to several tracers
//
// # Levels
//
//   - LevelOff: no tracing
//   - LevelError: only error events, the ring is dumped on crash
//   - LevelPhase: entry points and pipeline passes
//   - LevelDetail: mutation strategies and per-function work
//   - LevelDebug: everything including single instructions
//
// # Scopes
//
//   - ScopeDriver: Initialize, CustomMutate, TestOneInput, driver loop
//   - ScopePass: code generation passes
//   - ScopeModule: per-module and per-function work, strategy application
//   - ScopeNode: injected and deleted instructions
//
// # Context propagation
//
//	run := trace.Begin(tracer, trace.ScopeDriver, "fuzz", 0)
//	ctx = trace.ContextWithSpan(ctx, run)
//
//	// in a worker goroutine
//	span := trace.SpanFromContext(ctx).Child(trace.ScopeDriver, "worker")
//	defer span.End("")
package trace
