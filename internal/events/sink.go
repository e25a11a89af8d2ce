// Package events defines the fire-and-forget notification sink consumed by
// logging and metrics. The engine never blocks on sink completion.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Sink receives operation lifecycle notifications. Implementations must be
// cheap and non-blocking; slow consumers should buffer internally.
type Sink interface {
	OperationStarted(ctx context.Context, op, entityType string)
	OperationCompleted(ctx context.Context, op, entityType string, elapsed time.Duration)
	OperationFailed(ctx context.Context, op, entityType string, err error)
}

// SlogSink logs operation events through a structured logger.
type SlogSink struct {
	l *slog.Logger
}

// NewSlogSink wraps a slog logger as a Sink. A nil logger uses the default.
func NewSlogSink(l *slog.Logger) *SlogSink {
	if l == nil {
		l = slog.Default()
	}
	return &SlogSink{l: l}
}

func (s *SlogSink) OperationStarted(ctx context.Context, op, entityType string) {
	s.l.DebugContext(ctx, "operation started", "op", op, "entity_type", entityType)
}

func (s *SlogSink) OperationCompleted(ctx context.Context, op, entityType string, elapsed time.Duration) {
	s.l.InfoContext(ctx, "operation completed", "op", op, "entity_type", entityType, "elapsed", elapsed)
}

func (s *SlogSink) OperationFailed(ctx context.Context, op, entityType string, err error) {
	s.l.ErrorContext(ctx, "operation failed", "op", op, "entity_type", entityType, "error", err)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) OperationStarted(context.Context, string, string)                  {}
func (NopSink) OperationCompleted(context.Context, string, string, time.Duration) {}
func (NopSink) OperationFailed(context.Context, string, string, error)            {}
