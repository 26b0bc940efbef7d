package dkim

import (
	"context"
)

type contextKey string

const traceKey contextKey = "trace"

func trace(ctx context.Context, f string, args ...interface{}) {
	traceFunc, ok := ctx.Value(traceKey).(TraceFunc)
	if !ok {
		return
	}
	traceFunc(f, args...)
}

// TraceFunc receives debugging information about the processing of a
// message.
type TraceFunc func(f string, a ...interface{})

// WithTraceFunc returns a context that will send tracing information to the
// given function.
func WithTraceFunc(ctx context.Context, trace TraceFunc) context.Context {
	return context.WithValue(ctx, traceKey, trace)
}

const strictTagsKey contextKey = "strictTags"

// WithStrictTags returns a context in which DKIM-Signature fields with
// duplicate tags are rejected, instead of keeping the last value.
func WithStrictTags(ctx context.Context, strict bool) context.Context {
	return context.WithValue(ctx, strictTagsKey, strict)
}

func strictTags(ctx context.Context) bool {
	strict, _ := ctx.Value(strictTagsKey).(bool)
	return strict
}
