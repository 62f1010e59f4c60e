package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harun/aide/pkg/history"
	"github.com/harun/aide/pkg/llm"
	"github.com/harun/aide/pkg/llm/llmtest"
	"github.com/harun/aide/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	history.Store
}

func (f failingStore) Append(context.Context, string, ...history.Message) error {
	return errors.New("disk full")
}

func newTestAssistant(t *testing.T, client llm.Client, cfg Config, store history.Store) *Assistant {
	t.Helper()
	a, err := NewAssistant(Options{
		UserID:     "u1",
		LLM:        client,
		Config:     cfg,
		ExtraTools: []tools.Tool{searchTool(nil)},
		Store:      store,
	})
	require.NoError(t, err)
	return a
}

func TestNewAssistant(t *testing.T) {
	t.Run("should require a user", func(t *testing.T) {
		_, err := NewAssistant(Options{LLM: llmtest.New()})
		assert.Error(t, err)
	})

	t.Run("should require an llm client", func(t *testing.T) {
		_, err := NewAssistant(Options{UserID: "u1"})
		assert.ErrorIs(t, err, ErrNoLLM)
	})

	t.Run("should reject conflicting tool policies", func(t *testing.T) {
		_, err := NewAssistant(Options{
			UserID: "u1",
			LLM:    llmtest.New(),
			Tools:  tools.Config{Policy: &tools.Policy{Allow: []string{"*"}, Deny: []string{"*"}}},
		})
		assert.Error(t, err)
	})

	t.Run("should register the virtual file system", func(t *testing.T) {
		a := newTestAssistant(t, llmtest.New(), testConfig(), nil)
		assert.True(t, a.Registry().Has(context.Background(), tools.VirtualFSName))
		assert.True(t, a.Registry().Has(context.Background(), "web_search"))
	})
}

func TestAssistant_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject an empty goal", func(t *testing.T) {
		a := newTestAssistant(t, llmtest.New(), testConfig(), nil)

		res, err := a.Run(ctx, TurnRequest{Goal: "   "})
		assert.ErrorIs(t, err, ErrEmptyGoal)
		require.NotNil(t, res)
		assert.NotEmpty(t, res.Response)
		assert.Empty(t, a.Memory())
	})

	t.Run("should reject an unknown mode", func(t *testing.T) {
		a := newTestAssistant(t, llmtest.New(), testConfig(), nil)

		res, err := a.Run(ctx, TurnRequest{Goal: "hi", Mode: "turbo"})
		assert.Error(t, err)
		assert.NotEmpty(t, res.Response)
	})

	t.Run("should persist the exchange", func(t *testing.T) {
		store := history.NewMemoryStore()
		client := llmtest.New(
			reply(promptThink, `{"action": "tools", "tool_calls": [{"tool": "web_search", "parameters": {"query": "go"}}]}`),
			reply(promptRespond, "Go is a language."),
		)
		a := newTestAssistant(t, client, testConfig(), store)

		res, err := a.Run(ctx, TurnRequest{Goal: "What is Go?", Mode: ModeSimple})
		require.NoError(t, err)

		assert.Equal(t, "Go is a language.", res.Response)
		assert.Equal(t, ModeSimple, res.Mode)
		assert.NotEmpty(t, res.TurnID)
		assert.Equal(t, []string{"web_search"}, res.ToolsUsed)
		assert.Equal(t, 1, res.StepsCompleted)
		assert.Zero(t, res.Failures)
		assert.NotEmpty(t, res.Path)

		msgs, err := store.Load(ctx, "u1", 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "user", msgs[0].Role)
		assert.Equal(t, "What is Go?", msgs[0].Content)
		assert.Equal(t, "assistant", msgs[1].Role)
		assert.Equal(t, "Go is a language.", msgs[1].Content)
		assert.Equal(t, "simple", msgs[1].Metadata["mode"])
		assert.Equal(t, res.TurnID, msgs[1].Metadata["turn_id"])
		assert.Len(t, a.Memory(), 2)
	})

	t.Run("should carry memory into the next turn", func(t *testing.T) {
		client := llmtest.New(
			reply(promptThink, `{"action": "end", "response": "Nice to meet you, Ana."}`),
			reply(promptThink, `{"action": "end", "response": "You are Ana."}`),
		)
		a := newTestAssistant(t, client, testConfig(), nil)

		_, err := a.Run(ctx, TurnRequest{Goal: "My name is Ana", Mode: ModeSimple})
		require.NoError(t, err)
		_, err = a.Run(ctx, TurnRequest{Goal: "What is my name?", Mode: ModeSimple})
		require.NoError(t, err)

		reqs := client.Requests()
		require.Len(t, reqs, 2)
		assert.Contains(t, reqs[1].Messages[0].Content, "Nice to meet you, Ana.")
	})

	t.Run("should load history on init", func(t *testing.T) {
		store := history.NewMemoryStore()
		require.NoError(t, store.Append(ctx, "u1",
			history.Message{Role: "user", Content: "earlier question"},
			history.Message{Role: "assistant", Content: "earlier answer"},
		))
		a := newTestAssistant(t, llmtest.New(), testConfig(), nil)
		a.Attach(store)

		require.NoError(t, a.Init(ctx))
		mem := a.Memory()
		require.Len(t, mem, 2)
		assert.Equal(t, "earlier answer", mem[1].Content)
	})

	t.Run("should bound memory", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxMessages = 4
		client := llmtest.New(sticky(promptThink, `{"action": "end", "response": "ok"}`))
		a := newTestAssistant(t, client, cfg, nil)

		for _, goal := range []string{"one", "two", "three"} {
			_, err := a.Run(ctx, TurnRequest{Goal: goal, Mode: ModeSimple})
			require.NoError(t, err)
		}

		mem := a.Memory()
		require.Len(t, mem, 4)
		assert.Equal(t, "two", mem[0].Content)
	})

	t.Run("should use the default mode", func(t *testing.T) {
		cfg := testConfig()
		cfg.Autonomous.MinResearch = map[string]int{}
		client := llmtest.New(reply(promptThink, `{"action": "respond", "response": "Done."}`))
		a := newTestAssistant(t, client, cfg, nil)

		res, err := a.Run(ctx, TurnRequest{Goal: "Tell me a joke"})
		require.NoError(t, err)

		assert.Equal(t, ModeAutonomous, res.Mode)
		assert.Equal(t, "Done.", res.Response)
		require.NotNil(t, res.Workspace)
		assert.True(t, a.Files().Exists(res.Workspace.Filename))
	})

	t.Run("should apply the personality", func(t *testing.T) {
		client := llmtest.New(reply(promptThink, `{"action": "end", "response": "hey!"}`))
		a := newTestAssistant(t, client, testConfig(), nil)

		_, err := a.Run(ctx, TurnRequest{Goal: "hello", Mode: ModeSimple, Personality: "casual"})
		require.NoError(t, err)

		assert.Contains(t, client.Requests()[0].System, Personalities["casual"])
	})

	t.Run("should keep the answer when the store fails", func(t *testing.T) {
		client := llmtest.New(reply(promptThink, `{"action": "end", "response": "ok"}`))
		a := newTestAssistant(t, client, testConfig(), failingStore{Store: history.NewMemoryStore()})

		res, err := a.Run(ctx, TurnRequest{Goal: "hello", Mode: ModeSimple})
		require.NoError(t, err)
		assert.Equal(t, "ok", res.Response)
		assert.Len(t, a.Memory(), 2)
	})

	t.Run("should apologize on cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		a := newTestAssistant(t, llmtest.New(), testConfig(), nil)

		res, err := a.Run(cctx, TurnRequest{Goal: "hello", Mode: ModeIntent})
		assert.ErrorIs(t, err, context.Canceled)
		require.NotNil(t, res)
		assert.True(t, strings.HasPrefix(res.Response, "I apologize"))
		assert.Contains(t, res.Response, "completed 0 steps")
	})

	t.Run("should refuse turns after close", func(t *testing.T) {
		a := newTestAssistant(t, llmtest.New(), testConfig(), nil)
		require.NoError(t, a.Close())

		_, err := a.Run(ctx, TurnRequest{Goal: "hello"})
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("should answer with a budget note when the run deadline passes", func(t *testing.T) {
		cfg := testConfig()
		cfg.Timeout = 50 * time.Millisecond
		client := stalling(llmtest.New(
			reply(promptThink, `{"action": "tools", "tool_calls": [{"tool": "web_search", "parameters": {"query": "go"}}]}`),
		), 1)
		a := newTestAssistant(t, client, cfg, nil)

		res, err := a.Run(ctx, TurnRequest{Goal: "Research Go", Mode: ModeAutonomous})
		require.NoError(t, err)

		require.NotNil(t, res.Budget)
		require.NotEmpty(t, res.Path)
		assert.Equal(t, nodeRespond, res.Path[len(res.Path)-1].Node)
		assert.Equal(t, []string{"web_search"}, res.ToolsUsed)
		assert.True(t, strings.HasPrefix(res.Response, "I ran out of time"))
	})
}
