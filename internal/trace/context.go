package trace

import "context"

type spanKey struct{}

// ContextWithSpan returns a copy of ctx carrying s. Goroutines started
// with the result open their spans under s.
func ContextWithSpan(ctx context.Context, s *Span) context.Context {
	if s == nil {
		s = inert
	}
	return context.WithValue(ctx, spanKey{}, s)
}

// SpanFromContext returns the span carried by ctx, or an inert span.
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return inert
	}
	if s, ok := ctx.Value(spanKey{}).(*Span); ok {
		return s
	}
	return inert
}
