package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/aide/internal/config"
	"github.com/harun/aide/pkg/llm"
	"github.com/harun/aide/pkg/llm/llmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with fresh command-local flags
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	runMode, runUser, runOutput = "", "tester", outputText
	chatUser, historyUser, historyLimit, historyOutput = "tester", "tester", 0, outputText
	configOutput = outputJSON

	cmd := GetRootCmd()
	for _, name := range []string{"config", "log-level"} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NoError(t, f.Value.Set(f.DefValue))
		f.Changed = false
	}
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

// writeConfig writes a config file rooted in a temp data dir. extra is
// spliced into the top-level JSON object.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "aide.json")
	body := fmt.Sprintf(`{"data_dir": %q, "logging": {"level": "error", "console": false}`, dir)
	if extra != "" {
		body += ", " + extra
	}
	body += "}"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// useClient swaps the LLM client factory for the test
func useClient(t *testing.T, client llm.Client) {
	t.Helper()
	prev := newLLMClient
	newLLMClient = func(*config.Config) (llm.Client, error) { return client, nil }
	t.Cleanup(func() { newLLMClient = prev })
}

func answering(content string) *llmtest.Scripted {
	return llmtest.New(llmtest.Reply{
		Match:   llmtest.PromptContains("Decide the next step"),
		Content: fmt.Sprintf(`{"action": "end", "response": %q}`, content),
		Sticky:  true,
	})
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		output, err := execute(t, "", "--version")
		require.NoError(t, err)

		assert.Contains(t, output, "aide version")
		assert.Contains(t, output, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		output, err := execute(t, "", "--help")
		require.NoError(t, err)

		assert.Contains(t, output, "aide")
		assert.Contains(t, output, "simple, autonomous or intent")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "info", logLevelFlag.DefValue)
	})

	t.Run("should register every command", func(t *testing.T) {
		names := map[string]bool{}
		for _, c := range GetRootCmd().Commands() {
			names[c.Name()] = true
		}
		for _, want := range []string{"run", "chat", "history", "config", "version"} {
			assert.True(t, names[want], "missing command %s", want)
		}
	})
}

func TestGlobalFlags(t *testing.T) {
	t.Run("should normalize the log level", func(t *testing.T) {
		path := writeConfig(t, "")
		_, err := execute(t, "", "config", "validate", "--config", path, "--log-level", "WARN")
		require.NoError(t, err)
		assert.Equal(t, "warn", logLevel)
	})

	t.Run("should reject an unknown log level", func(t *testing.T) {
		_, err := execute(t, "", "config", "validate", "--config", writeConfig(t, ""), "--log-level", "loud")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `invalid --log-level "loud"`)
	})

	t.Run("should read the config path from the environment", func(t *testing.T) {
		path := writeConfig(t, "")
		t.Setenv(configEnv, path)

		_, err := execute(t, "", "config", "validate")
		require.NoError(t, err)
		assert.Equal(t, path, cfgFile)
	})

	t.Run("should prefer the config flag over the environment", func(t *testing.T) {
		path := writeConfig(t, "")
		t.Setenv(configEnv, filepath.Join(t.TempDir(), "missing.json"))

		_, err := execute(t, "", "config", "validate", "--config", path)
		require.NoError(t, err)
		assert.Equal(t, path, cfgFile)
	})
}

func TestVersionCommand(t *testing.T) {
	output, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(output, "aide version "+GetVersion()))
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}
