package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/harun/aide/pkg/llm"
	"github.com/harun/aide/pkg/llm/llmtest"
	"github.com/harun/aide/pkg/tools"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// Prompt markers used to route scripted replies
const (
	promptThink     = "Decide the next step"
	promptClassify  = "Classify the user's request"
	promptPlan      = "Create a step-by-step plan"
	promptEvaluate  = "Evaluate one executed step"
	promptSynthesis = "Consolidate the research"
	promptRespond   = "Write the final answer"
)

func reply(marker, content string) llmtest.Reply {
	return llmtest.Reply{Match: llmtest.PromptContains(marker), Content: content}
}

func sticky(marker, content string) llmtest.Reply {
	return llmtest.Reply{Match: llmtest.PromptContains(marker), Content: content, Sticky: true}
}

func searchTool(calls *int32) *tools.FuncTool {
	return &tools.FuncTool{
		Def: tools.Definition{
			Name:        "web_search",
			Description: "Search the web",
			Category:    tools.CategorySearch,
			Parameters:  []tools.Parameter{{Name: "query", Type: "string", Required: true, Description: "Search query"}},
		},
		Handler: func(_ context.Context, p map[string]any) (any, error) {
			if calls != nil {
				atomic.AddInt32(calls, 1)
			}
			return fmt.Sprintf("results for %v", p["query"]), nil
		},
	}
}

func brokenTool(name string) *tools.FuncTool {
	return &tools.FuncTool{
		Def: tools.Definition{
			Name:        name,
			Description: "Always fails",
			Category:    tools.CategoryGeneral,
			Parameters:  []tools.Parameter{{Name: "input", Type: "string", Description: "Input"}},
		},
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("upstream unavailable")
		},
	}
}

// stalling answers through inner for the first calls requests and then blocks
// every request until its context ends
func stalling(inner llm.Client, calls int) llm.Client {
	var n int32
	return llm.ClientFunc(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		if int(atomic.AddInt32(&n, 1)) > calls {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return inner.Complete(ctx, req)
	})
}

func newTestRuntime(t *testing.T, client llm.Client, cfg Config, extra ...tools.Tool) *runtime {
	t.Helper()
	cfg = cfg.withDefaults()
	registry := tools.NewRegistry(tools.Config{}, tools.Principal{UserID: "u1"})
	fs := tools.NewVirtualFS()
	require.NoError(t, registry.Register(fs))
	for _, tool := range extra {
		require.NoError(t, registry.Register(tool))
	}
	return newRuntime(cfg, client, registry, fs, zerolog.Nop())
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Planner.EvaluateSteps = false
	return cfg
}
