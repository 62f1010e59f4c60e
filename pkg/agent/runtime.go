package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/aide/internal/tracing"
	"github.com/harun/aide/pkg/flow"
	"github.com/harun/aide/pkg/llm"
	"github.com/harun/aide/pkg/params"
	"github.com/harun/aide/pkg/planner"
	"github.com/harun/aide/pkg/tools"
	"github.com/rs/zerolog"
)

var errEmptyCompletion = errors.New("llm returned an empty completion")

// runtime holds the collaborators shared by the nodes of one assistant
type runtime struct {
	cfg       Config
	client    llm.Client
	registry  *tools.Registry
	fs        *tools.VirtualFS
	processor *params.Processor
	planner   *planner.Planner
	gate      *CompletionGate
	logger    zerolog.Logger
	now       func() time.Time
}

func newRuntime(cfg Config, client llm.Client, registry *tools.Registry, fs *tools.VirtualFS, logger zerolog.Logger) *runtime {
	return &runtime{
		cfg:       cfg,
		client:    client,
		registry:  registry,
		fs:        fs,
		processor: params.NewProcessor(logger),
		planner:   planner.NewPlanner(cfg.Planner.MaxTodos),
		gate:      NewCompletionGate(cfg.Autonomous),
		logger:    logger,
		now:       time.Now,
	}
}

func (r *runtime) nodeLogger(ctx context.Context, node string) *zerolog.Logger {
	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("node", node).Logger()
	return &logger
}

// ensureWorkspace creates the turn workspace once and drops the oldest
// workspaces of the same kind left by earlier turns.
func (r *runtime) ensureWorkspace(ctx context.Context, state *SharedContext, prefix string, render func(taskID string) string) (*Workspace, bool, error) {
	if state.Workspace == nil && r.fs != nil {
		// Make room for the workspace about to be written.
		if removed := r.fs.Prune(prefix+"_", r.cfg.KeepWorkspaces-1); len(removed) > 0 {
			logger := r.nodeLogger(ctx, "workspace")
			logger.Debug().Strs("files", removed).Msg("Pruned old workspaces")
		}
	}
	return state.EnsureWorkspace(r.fs, prefix, render)
}

// ask sends prompt as a single user message under the assistant system prompt
func (r *runtime) ask(ctx context.Context, state *SharedContext, prompt string, asJSON bool) (string, error) {
	req := llm.Request{
		Model:       r.cfg.Model,
		System:      systemPrompt(r.cfg.SystemPrompt, state.Personality),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
		JSON:        asJSON,
	}
	resp, err := r.client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", errEmptyCompletion
	}
	return resp.Content, nil
}

// decide asks for a JSON answer, repairs and validates it against schema and
// decodes it into out.
func (r *runtime) decide(ctx context.Context, state *SharedContext, prompt string, schema *params.Schema, out any) error {
	text, err := r.ask(ctx, state, prompt, true)
	if err != nil {
		return err
	}
	obj, err := r.processor.ProcessObject(text, schema)
	if err != nil {
		return fmt.Errorf("invalid llm output: %w", err)
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to encode llm output: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode llm output: %w", err)
	}
	return nil
}

// available returns the tool definitions usable by the user
func (r *runtime) available(ctx context.Context) []tools.Definition {
	return r.registry.Available(ctx)
}

func searchAvailable(defs []tools.Definition) bool {
	for _, d := range defs {
		if d.Category == tools.CategorySearch {
			return true
		}
	}
	return false
}

func toolInfos(defs []tools.Definition) []planner.ToolInfo {
	infos := make([]planner.ToolInfo, 0, len(defs))
	for _, d := range defs {
		infos = append(infos, planner.ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			Search:      d.Category == tools.CategorySearch,
		})
	}
	return infos
}

var (
	intentSchema = params.MustSchema(params.Object(map[string]any{
		"complexity":      map[string]any{"type": "string", "enum": []string{planner.ComplexitySimple, planner.ComplexityFocused, planner.ComplexityComplex}},
		"task_category":   map[string]any{"type": "string"},
		"user_intent":     map[string]any{"type": "string"},
		"requires_tools":  map[string]any{"type": "boolean"},
		"estimated_steps": map[string]any{"type": "integer", "minimum": 0},
	}, "complexity"))

	decisionSchema = params.MustSchema(params.Object(map[string]any{
		"thinking": map[string]any{"type": "string"},
		"action": map[string]any{"type": "string", "enum": []string{
			string(flow.ActionTools), string(flow.ActionThink), string(flow.ActionSynthesize), string(flow.ActionRespond), string(flow.ActionEnd),
		}},
		"tool_calls": map[string]any{
			"type": "array",
			"items": params.Object(map[string]any{
				"tool":       map[string]any{"type": "string", "minLength": 1},
				"parameters": map[string]any{"type": []string{"object", "string", "null"}},
			}, "tool"),
		},
		"response": map[string]any{"type": "string"},
	}, "action"))

	evaluationSchema = params.MustSchema(params.Object(map[string]any{
		"todo_completed":    map[string]any{"type": "boolean"},
		"execution_summary": map[string]any{"type": "string"},
		"plan_complete":     map[string]any{"type": "boolean"},
	}, "todo_completed"))

	draftSchema = params.MustSchema(params.Object(map[string]any{
		"plan_summary":     map[string]any{"type": "string"},
		"success_criteria": map[string]any{"type": "string"},
		"todos": map[string]any{
			"type": "array",
			"items": params.Object(map[string]any{
				"id":              map[string]any{"type": "string"},
				"title":           map[string]any{"type": "string"},
				"description":     map[string]any{"type": "string"},
				"tool_required":   map[string]any{"type": []string{"string", "null"}},
				"tool_parameters": map[string]any{"type": []string{"object", "null"}},
				"dependencies":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			}, "title"),
		},
	}, "todos"))
)
