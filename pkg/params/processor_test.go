package params

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eventSchema = MustSchema(Object(map[string]any{
	"summary": map[string]any{"type": "string"},
	"start":   map[string]any{"type": "string"},
	"end":     map[string]any{"type": "string"},
	"reminders": map[string]any{
		"type": "array",
		"items": Object(map[string]any{
			"method":  map[string]any{"type": "string", "enum": []string{"popup", "email"}},
			"minutes": map[string]any{"type": "integer"},
		}, "method"),
	},
}, "summary", "start"))

func TestProcessor_Process(t *testing.T) {
	p := NewProcessor(zerolog.Nop())

	t.Run("should normalize quasi-json tool arguments", func(t *testing.T) {
		raw := `{summary: Meeting with Martin, start: 2025-09-12T16:00:00+03:00, end: 2025-09-12T17:00:00+03:00, reminders: [{method: popup, minutes: 30}]}`

		got, err := p.Process(raw, eventSchema)
		require.NoError(t, err)

		data, err := json.Marshal(got)
		require.NoError(t, err)
		assert.JSONEq(t, `{"summary":"Meeting with Martin","start":"2025-09-12T16:00:00+03:00","end":"2025-09-12T17:00:00+03:00","reminders":[{"method":"popup","minutes":30}]}`, string(data))
	})

	t.Run("should pass valid input through unchanged", func(t *testing.T) {
		raw := `{"summary":"Standup","start":"2025-01-01T09:00:00Z","reminders":[]}`

		got, err := p.Process(raw, eventSchema)
		require.NoError(t, err)

		var want any
		require.NoError(t, json.Unmarshal([]byte(raw), &want))
		assert.Equal(t, want, got)
	})

	t.Run("should be idempotent", func(t *testing.T) {
		raw := `{summary: 'Lunch', start: 2025-09-12T12:00:00Z, reminders: [{method: email, minutes: "15"}]}`

		once, err := p.Process(raw, eventSchema)
		require.NoError(t, err)
		twice, err := p.Process(once, eventSchema)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	})

	t.Run("should coerce numeric strings only for numeric fields", func(t *testing.T) {
		raw := `{"summary": "42", "start": "now", "reminders": [{"method": "popup", "minutes": "30"}]}`

		got, err := p.ProcessObject(raw, eventSchema)
		require.NoError(t, err)
		assert.Equal(t, "42", got["summary"])

		reminders := got["reminders"].([]any)
		assert.Equal(t, float64(30), reminders[0].(map[string]any)["minutes"])
	})

	t.Run("should expand doubly encoded payloads", func(t *testing.T) {
		raw := `{"summary": "Sync", "start": "today", "reminders": "[{\"method\": \"popup\", \"minutes\": 5}]"}`

		got, err := p.ProcessObject(raw, eventSchema)
		require.NoError(t, err)
		assert.Len(t, got["reminders"], 1)
	})

	t.Run("should keep json-looking text in string fields", func(t *testing.T) {
		raw := `{"summary": "[draft] planning", "start": "{today}"}`

		got, err := p.ProcessObject(raw, eventSchema)
		require.NoError(t, err)
		assert.Equal(t, "[draft] planning", got["summary"])
		assert.Equal(t, "{today}", got["start"])
	})

	t.Run("should accept structured input", func(t *testing.T) {
		got, err := p.ProcessObject(map[string]any{"summary": "x", "start": "y"}, eventSchema)
		require.NoError(t, err)
		assert.Equal(t, "x", got["summary"])
	})

	t.Run("should treat empty input as an empty object", func(t *testing.T) {
		got, err := p.ProcessObject("  ", nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestProcessor_Errors(t *testing.T) {
	p := NewProcessor(zerolog.Nop())

	t.Run("should name a missing required field", func(t *testing.T) {
		_, err := p.Process(`{"start": "now"}`, eventSchema)
		require.Error(t, err)

		var pe *ProcessingError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, "summary", pe.Field)
		assert.Contains(t, err.Error(), `field "summary"`)
	})

	t.Run("should name an enum violation", func(t *testing.T) {
		_, err := p.Process(`{summary: a, start: b, reminders: [{method: sms}]}`, eventSchema)
		require.Error(t, err)

		var pe *ProcessingError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, "reminders.0.method", pe.Field)
	})

	t.Run("should reject non-object payloads in ProcessObject", func(t *testing.T) {
		_, err := p.ProcessObject(`[1, 2]`, nil)
		require.Error(t, err)
	})

	t.Run("should report unrepairable text", func(t *testing.T) {
		_, err := p.Process(`{a: {b 1}}`, nil)
		var pe *ProcessingError
		require.True(t, errors.As(err, &pe))
	})
}
