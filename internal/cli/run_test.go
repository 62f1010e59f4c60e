package cli

import (
	"encoding/json"
	"testing"

	"github.com/harun/aide/pkg/agent"
	"github.com/harun/aide/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommand(t *testing.T) {
	t.Run("should print the answer and a summary", func(t *testing.T) {
		path := writeConfig(t, "")
		useClient(t, answering("Go is a language."))

		output, err := execute(t, "", "run", "--config", path, "--mode", "simple", "What", "is", "Go?")

		require.NoError(t, err)
		assert.Contains(t, output, "Go is a language.")
		assert.Contains(t, output, "[mode=simple steps=0")
	})

	t.Run("should encode the result as json", func(t *testing.T) {
		path := writeConfig(t, "")
		useClient(t, answering("Hi."))

		output, err := execute(t, "", "run", "--config", path, "--mode", "simple", "-o", "json", "hello")

		require.NoError(t, err)
		var res agent.TurnResult
		require.NoError(t, json.Unmarshal([]byte(output), &res))
		assert.Equal(t, "Hi.", res.Response)
		assert.Equal(t, agent.ModeSimple, res.Mode)
		assert.NotEmpty(t, res.TurnID)
	})

	t.Run("should persist the turn for the user", func(t *testing.T) {
		path := writeConfig(t, "")
		useClient(t, answering("Noted."))

		_, err := execute(t, "", "run", "--config", path, "--mode", "simple", "--user", "alice", "remember milk")
		require.NoError(t, err)

		output, err := execute(t, "", "history", "show", "--config", path, "--user", "alice")
		require.NoError(t, err)
		assert.Contains(t, output, "user: remember milk")
		assert.Contains(t, output, "assistant: Noted.")
	})

	t.Run("should reject an unknown mode", func(t *testing.T) {
		_, err := execute(t, "", "run", "--config", writeConfig(t, ""), "--mode", "turbo", "hi")
		assert.ErrorContains(t, err, "unknown mode")
	})

	t.Run("should reject an unknown output format", func(t *testing.T) {
		_, err := execute(t, "", "run", "--config", writeConfig(t, ""), "-o", "xml", "hi")
		assert.ErrorContains(t, err, "unknown output format")
	})

	t.Run("should explain missing profiles", func(t *testing.T) {
		_, err := execute(t, "", "run", "--config", writeConfig(t, ""), "hi")
		assert.ErrorIs(t, err, llm.ErrNoProfiles)
		assert.ErrorContains(t, err, "aide config init")
	})

	t.Run("should refuse an invalid config", func(t *testing.T) {
		path := writeConfig(t, `"engine": {"default_mode": "turbo"}`)
		useClient(t, answering("unused"))

		_, err := execute(t, "", "run", "--config", path, "hi")
		assert.ErrorContains(t, err, "invalid configuration")
	})
}
