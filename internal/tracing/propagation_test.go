package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPropagateToLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-123")
	ctx = WithTurnID(ctx, "turn-9")
	ctx = WithUserID(ctx, "alice")

	logger := PropagateToLogger(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	for _, want := range []string{`"trace_id":"trace-123"`, `"turn_id":"turn-9"`, `"user_id":"alice"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log output to contain %s, got %s", want, out)
		}
	}
	if strings.Contains(out, "session_id") {
		t.Error("Empty fields should not be added")
	}
}

func TestDetach(t *testing.T) {
	parent, cancel := context.WithTimeout(WithUserID(context.Background(), "alice"), time.Millisecond)
	cancel()

	detached := Detach(parent)

	if detached.Err() != nil {
		t.Error("Detached context should not inherit cancellation")
	}
	if GetUserID(detached) != "alice" {
		t.Error("Detached context should keep tracing values")
	}
}

func TestStartSpanWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "aide.test", "op")
	defer span.End()

	if ctx == nil {
		t.Fatal("StartSpan returned nil context")
	}
}
