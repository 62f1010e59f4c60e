package history

import (
	"context"
	"time"

	"github.com/harun/aide/internal/observability"
	"github.com/harun/aide/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// instrumented adds spans, metrics and logs around a Store
type instrumented struct {
	next    Store
	backend string
}

// Instrument wraps store so every operation is traced and measured
func Instrument(store Store, backend string) Store {
	if _, ok := store.(*instrumented); ok {
		return store
	}
	return &instrumented{next: store, backend: backend}
}

func (s *instrumented) start(ctx context.Context, op, userID string) (context.Context, trace.Span, func(error)) {
	ctx, span := tracing.StartSpan(ctx, "aide.history", "history."+op,
		attribute.String("history.backend", s.backend),
		attribute.String("user_id", userID),
	)
	started := time.Now()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	return ctx, span, func(err error) {
		observability.RecordHistoryOp(s.backend, op, time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn().Err(err).Str("backend", s.backend).Str("op", op).Str("user_id", userID).Msg("History operation failed")
		}
		span.End()
	}
}

func (s *instrumented) Append(ctx context.Context, userID string, msgs ...Message) error {
	ctx, span, done := s.start(ctx, "append", userID)
	span.SetAttributes(attribute.Int("history.messages", len(msgs)))
	err := s.next.Append(ctx, userID, msgs...)
	done(err)
	return err
}

func (s *instrumented) Load(ctx context.Context, userID string, limit int) ([]Message, error) {
	ctx, span, done := s.start(ctx, "load", userID)
	msgs, err := s.next.Load(ctx, userID, limit)
	span.SetAttributes(attribute.Int("history.messages", len(msgs)))
	done(err)
	return msgs, err
}

func (s *instrumented) Clear(ctx context.Context, userID string) error {
	ctx, _, done := s.start(ctx, "clear", userID)
	err := s.next.Clear(ctx, userID)
	done(err)
	return err
}

func (s *instrumented) Close() error {
	return s.next.Close()
}
