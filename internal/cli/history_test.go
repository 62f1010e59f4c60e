package cli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/harun/aide/internal/config"
	"github.com/harun/aide/pkg/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedHistory appends msgs for user to the store configured at path
func seedHistory(t *testing.T, path, user string, msgs ...history.Message) {
	t.Helper()
	cfg, err := config.NewLoader(path).Load()
	require.NoError(t, err)
	store, err := history.Open(context.Background(), cfg.HistoryConfig())
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Append(context.Background(), user, msgs...))
}

func TestHistoryCommand(t *testing.T) {
	msgs := []history.Message{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
	}

	t.Run("should show the last messages", func(t *testing.T) {
		path := writeConfig(t, "")
		seedHistory(t, path, "bob", msgs...)

		output, err := execute(t, "", "history", "show", "--config", path, "--user", "bob", "-n", "2")

		require.NoError(t, err)
		assert.NotContains(t, output, "user: one")
		assert.Contains(t, output, "assistant: two")
		assert.Contains(t, output, "user: three")
	})

	t.Run("should encode as json", func(t *testing.T) {
		path := writeConfig(t, "")
		seedHistory(t, path, "bob", msgs...)

		output, err := execute(t, "", "history", "show", "--config", path, "--user", "bob", "-o", "json")

		require.NoError(t, err)
		var got []history.Message
		require.NoError(t, json.Unmarshal([]byte(output), &got))
		require.Len(t, got, 3)
		assert.Equal(t, "three", got[2].Content)
	})

	t.Run("should encode as yaml", func(t *testing.T) {
		path := writeConfig(t, "")
		seedHistory(t, path, "bob", msgs...)

		output, err := execute(t, "", "history", "show", "--config", path, "--user", "bob", "-o", "yaml")

		require.NoError(t, err)
		assert.Contains(t, output, "- role: user")
		assert.Contains(t, output, "content: three")
	})

	t.Run("should clear the history", func(t *testing.T) {
		path := writeConfig(t, "")
		seedHistory(t, path, "bob", msgs...)

		output, err := execute(t, "", "history", "clear", "--config", path, "--user", "bob")
		require.NoError(t, err)
		assert.Contains(t, output, "History cleared for bob.")

		output, err = execute(t, "", "history", "show", "--config", path, "--user", "bob")
		require.NoError(t, err)
		assert.Contains(t, output, "No history for bob.")
	})

	t.Run("should reject unsafe user ids", func(t *testing.T) {
		_, err := execute(t, "", "history", "show", "--config", writeConfig(t, ""), "--user", "../etc")
		assert.ErrorIs(t, err, history.ErrInvalidKey)
	})
}
