package logger

import "context"

type ctxKey struct{}

// WithContext returns a new context carrying l.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// Lookup returns the logger stored in ctx, if any.
func Lookup(ctx context.Context) (Logger, bool) {
	l, ok := ctx.Value(ctxKey{}).(Logger)
	return l, ok
}

// FromContext returns the logger stored in ctx, or def when there is none.
func FromContext(ctx context.Context, def Logger) Logger {
	if l, ok := Lookup(ctx); ok {
		return l
	}
	return def
}
