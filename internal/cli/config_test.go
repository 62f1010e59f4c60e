package cli

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/aide/internal/config"
	"github.com/harun/aide/pkg/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCommand(t *testing.T) {
	t.Run("should show the config with secrets masked", func(t *testing.T) {
		path := writeConfig(t, `"llm": {"profiles": [{"id": "main", "provider": "anthropic", "api_key": "sk-ant-secret-value", "priority": 1}]}`)

		output, err := execute(t, "", "config", "show", "--config", path)

		require.NoError(t, err)
		assert.Contains(t, output, `"api_key": "sk-a****alue"`)
		assert.NotContains(t, output, "sk-ant-secret-value")
	})

	t.Run("should show the config as yaml", func(t *testing.T) {
		path := writeConfig(t, `"engine": {"default_mode": "intent"}`)

		output, err := execute(t, "", "config", "show", "--config", path, "-o", "yaml")

		require.NoError(t, err)
		assert.Contains(t, output, "default_mode: intent")
	})

	t.Run("should report a valid config", func(t *testing.T) {
		output, err := execute(t, "", "config", "validate", "--config", writeConfig(t, ""))

		require.NoError(t, err)
		assert.Contains(t, output, ": ok")
	})

	t.Run("should list every problem", func(t *testing.T) {
		path := writeConfig(t, `"engine": {"max_steps": 0}, "history": {"backend": "redis"}`)

		output, err := execute(t, "", "config", "validate", "--config", path)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "problem(s) found")
		assert.Contains(t, output, "engine.maxsteps")
		assert.Contains(t, output, "history.redis_addr")
	})

	t.Run("should write the wizard result", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "aide.json")

		output, err := execute(t, "sk-ant-abc\n\n\nintent\n\n", "config", "init", "--config", path)

		require.NoError(t, err)
		assert.Contains(t, output, "Configuration saved to: "+path)

		cfg, err := config.NewLoader(path).Load()
		require.NoError(t, err)
		require.Len(t, cfg.LLM.Profiles, 1)
		assert.Equal(t, "sk-ant-abc", cfg.LLM.Profiles[0].APIKey)
		assert.Equal(t, "intent", cfg.Engine.DefaultMode)
	})
}

func TestWriteStructured(t *testing.T) {
	v := map[string]any{"name": "aide", "steps": 3, "tools": []string{"web_search"}}

	t.Run("should write block yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeStructured(&buf, outputYAML, v))
		assert.Equal(t, "name: aide\nsteps: 3\ntools:\n  - web_search\n", buf.String())
	})

	t.Run("should write indented json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeStructured(&buf, outputJSON, v))
		assert.Contains(t, buf.String(), "\n  \"steps\": 3")
	})
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	res := &agent.TurnResult{
		Response:       "Done.",
		Mode:           agent.ModeAutonomous,
		StepsCompleted: 4,
		ToolsUsed:      []string{"web_search", "virtual_fs"},
		Failures:       1,
		Duration:       1500 * time.Millisecond,
	}

	require.NoError(t, printResult(&buf, outputText, res))

	assert.Equal(t, "Done.\n\n[mode=autonomous steps=4 duration=2s tools=web_search,virtual_fs failures=1]\n", buf.String())
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 250 * time.Millisecond, want: "250ms"},
		{in: 42 * time.Second, want: "42s"},
		{in: 3*time.Minute + 5*time.Second, want: "3m5s"},
		{in: 2*time.Hour + 1*time.Minute, want: "2h1m0s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in))
	}
}
