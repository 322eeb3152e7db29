// Package logging carries pipeline, step and agent ids through a context
// and adds them to slog records.
package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	pipelineIDKey ctxKey = iota
	stepIDKey
	agentIDKey
)

// correlation lists the context keys in the order their attributes are
// written.
var correlation = []struct {
	key  ctxKey
	attr string
}{
	{pipelineIDKey, "pipeline_id"},
	{stepIDKey, "step_id"},
	{agentIDKey, "agent_id"},
}

// WithPipelineID returns a context carrying the pipeline name.
func WithPipelineID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, pipelineIDKey, id)
}

// WithStepID returns a context carrying the step id.
func WithStepID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, stepIDKey, id)
}

// WithAgentID returns a context carrying the agent id.
func WithAgentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, agentIDKey, id)
}

// WithStep sets the step and agent ids of a pipeline step.
func WithStep(ctx context.Context, stepID, agentID string) context.Context {
	return WithAgentID(WithStepID(ctx, stepID), agentID)
}

// PipelineID returns the pipeline name from ctx, or "".
func PipelineID(ctx context.Context) string { return value(ctx, pipelineIDKey) }

// StepID returns the step id from ctx, or "".
func StepID(ctx context.Context) string { return value(ctx, stepIDKey) }

// AgentID returns the agent id from ctx, or "".
func AgentID(ctx context.Context) string { return value(ctx, agentIDKey) }

func value(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// attrs returns the non-empty ids of ctx as attributes.
func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	for _, c := range correlation {
		if v := value(ctx, c.key); v != "" {
			out = append(out, slog.String(c.attr, v))
		}
	}
	return out
}

// CorrelationHandler adds the context ids to every record it handles, so
// callers only need logger.InfoContext(ctx, ...).
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps inner.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(as []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(as)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
