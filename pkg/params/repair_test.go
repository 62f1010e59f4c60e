package params

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepair_CalendarEvent(t *testing.T) {
	input := `{summary: Meeting with Martin, start: 2025-09-12T16:00:00+03:00, end: 2025-09-12T17:00:00+03:00, reminders: [{method: popup, minutes: 30}]}`
	want := `{"summary":"Meeting with Martin","start":"2025-09-12T16:00:00+03:00","end":"2025-09-12T17:00:00+03:00","reminders":[{"method":"popup","minutes":30}]}`

	out, err := Repair(input)
	require.NoError(t, err)
	assert.Equal(t, want, out)
}

func TestRepair_ValidInputUnchanged(t *testing.T) {
	inputs := []string{
		`{"a": 1, "b": [true, null, "x"]}`,
		`[1, 2, 3]`,
		`"plain"`,
		`{"nested": {"deep": {"value": -1.5e3}}}`,
	}

	for _, in := range inputs {
		out, err := Repair(in)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestRepair_Stages(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		stage Stage
	}{
		{
			name:  "should quote bare keys",
			input: `{query: "golang", limit: 5}`,
			want:  `{"query":"golang","limit":5}`,
			stage: StageKeys,
		},
		{
			name:  "should convert single quoted strings",
			input: `{'query': 'it\'s "fine"'}`,
			want:  `{"query":"it's \"fine\""}`,
			stage: StageQuotes,
		},
		{
			name:  "should keep apostrophes inside single quoted strings",
			input: `{note: 'don't stop', n: 1}`,
			want:  `{"note":"don't stop","n":1}`,
			stage: StageQuotes,
		},
		{
			name:  "should quote bare values and drop trailing commas",
			input: `{tags: [alpha, beta,], count: 2,}`,
			want:  `{"tags":["alpha","beta"],"count":2}`,
			stage: StageTokens,
		},
		{
			name:  "should map capitalized literals",
			input: `{a: True, b: False, c: None}`,
			want:  `{"a":true,"b":false,"c":null}`,
			stage: StageTokens,
		},
		{
			name:  "should close unterminated containers",
			input: `{items: [{id: 1}, {id: 2}`,
			want:  `{"items":[{"id":1},{"id":2}]}`,
			stage: StageTokens,
		},
		{
			name:  "should strip markdown fences",
			input: "```json\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
			stage: StageStrict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, stage, err := repairText(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
			assert.Equal(t, tt.stage, stage)
			assert.True(t, json.Valid([]byte(out)))
		})
	}
}

func TestRepair_Idempotent(t *testing.T) {
	inputs := []string{
		`{summary: Meeting with Martin, minutes: 30}`,
		`{'a': 'b', c: [x, y, 3]}`,
		`{a: True, b: [1, 2,`,
	}

	for _, in := range inputs {
		first, err := Repair(in)
		require.NoError(t, err)
		second, err := Repair(in)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		again, err := Repair(first)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRepair_Unrepairable(t *testing.T) {
	_, err := Repair(`{a: {b 1}}`)
	require.Error(t, err)

	var pe *ProcessingError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "a", pe.Field)
	assert.Contains(t, pe.Token, "b 1")
}
