// Package logger augments slog with attributes carried on the request
// context, so anything logged while serving a request picks up the
// request's identifiers without threading them through every call.
package logger

import (
	"context"
	"log/slog"
)

type contextKey string

const attrKey contextKey = "attrs"

// ContextHandler implements [slog.Handler] and appends to every record
// the attributes previously attached to the context via [Ctx].
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(base slog.Handler) ContextHandler {
	return ContextHandler{Handler: base}
}

// Handle implements [slog.Handler].
func (h ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if attrs, ok := ctx.Value(attrKey).([]slog.Attr); ok {
		record.AddAttrs(attrs...)
	}

	return h.Handler.Handle(ctx, record)
}

// Ctx returns a context carrying the given attributes in addition to
// any already present.
func Ctx(ctx context.Context, toAppend ...slog.Attr) context.Context {
	attrs, _ := ctx.Value(attrKey).([]slog.Attr)
	attrs = append(attrs[:len(attrs):len(attrs)], toAppend...)

	return context.WithValue(ctx, attrKey, attrs)
}
