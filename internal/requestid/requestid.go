// Package requestid ties the async pipeline's log lines back to the inbound
// webhook or Slack callback that caused them.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// New returns an id for one inbound request, prefixed with the surface it
// arrived on ("webhook", "slack", "ops") so log greps can separate traffic
// sources.
func New(surface string) string {
	return surface + "-" + uuid.New().String()[:8]
}

// WithRequestID stores the id on the context that crosses the ack boundary
// into async processing.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the stored id, or "" when the context never crossed
// an inbound surface.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
